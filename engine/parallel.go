package engine

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vportnov.me/arbot/audit"
	"github.com/vportnov.me/arbot/chain"
	"github.com/vportnov.me/arbot/gas"
	"github.com/vportnov.me/arbot/guard"
	"github.com/vportnov.me/arbot/noncealloc"
	"github.com/vportnov.me/arbot/quote"
	"github.com/vportnov.me/arbot/router"
	"github.com/vportnov.me/arbot/types"
	"github.com/vportnov.me/arbot/utils/metrics"
)

const pathParallel = "parallel"

// ParallelConfig wires the parallel path. Wallet is the trading account that
// both legs pay out to; it must match the submitter's signing key.
type ParallelConfig struct {
	Wallet      common.Address
	TokenX      common.Address
	TokenQ      common.Address
	MaxGasPrice *big.Int
}

// ParallelPath submits the two legs as independent router transactions at
// consecutive nonces from one reserved window. There is no rollback: once a
// leg settles it stays settled, and an attempt where exactly one leg lands
// is reported as partially filled with the full per-leg detail. The buy leg
// amount comes from a pre-trade quote rather than the sell leg's proceeds,
// so it drifts from reality by whatever moves between quote and inclusion.
type ParallelPath struct {
	codec    *router.Codec
	client   chain.Client
	quoter   quote.Quoter
	alloc    *noncealloc.Allocator
	sub      *Submitter
	limits   gas.Limits
	recorder *audit.Recorder
	metrics  *metrics.EngineMetrics
	logger   *zap.Logger
	cfg      ParallelConfig
}

func NewParallelPath(codec *router.Codec, client chain.Client, quoter quote.Quoter, alloc *noncealloc.Allocator, sub *Submitter, limits gas.Limits, recorder *audit.Recorder, m *metrics.EngineMetrics, logger *zap.Logger, cfg ParallelConfig) *ParallelPath {
	return &ParallelPath{
		codec:    codec,
		client:   client,
		quoter:   quoter,
		alloc:    alloc,
		sub:      sub,
		limits:   limits,
		recorder: recorder,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
	}
}

// Execute runs one parallel attempt. Both legs are encoded and priced before
// either is sent, then submitted concurrently at window nonces base and
// base+1. The returned attempt is populated, and audited once it reaches a
// terminal status; an attempt with an unsettled leg comes back still pending
// with ErrInclusionTimeout. A *PartialFillError must be handled by the
// caller, since the wallet then holds an open one-sided position.
func (p *ParallelPath) Execute(ctx context.Context, req Request) (*types.ArbAttempt, error) {
	minOut := req.MinAmountOut
	if minOut == nil {
		minOut = big.NewInt(0)
	}
	minProfit := req.MinProfit
	if minProfit == nil {
		minProfit = big.NewInt(0)
	}
	sellIntent := types.SwapIntent{
		Router:       req.SellRouter,
		TokenIn:      p.cfg.TokenX,
		TokenOut:     p.cfg.TokenQ,
		AmountIn:     req.AmountIn,
		MinAmountOut: minOut,
		Recipient:    p.cfg.Wallet,
		FeeOrBinStep: req.SellFeeOrBinStep,
		Deadline:     req.Deadline,
	}

	expectedOut, err := p.quoter.ExpectedOut(ctx, req.SellRouter, p.cfg.TokenX, p.cfg.TokenQ, req.AmountIn)
	if err != nil {
		return nil, err
	}
	buyIntent := types.SwapIntent{
		Router:       req.BuyRouter,
		TokenIn:      p.cfg.TokenQ,
		TokenOut:     p.cfg.TokenX,
		AmountIn:     expectedOut,
		MinAmountOut: big.NewInt(0),
		Recipient:    p.cfg.Wallet,
		FeeOrBinStep: req.BuyFeeOrBinStep,
		Deadline:     req.Deadline,
	}

	attempt := &types.ArbAttempt{
		ID:        uuid.NewString(),
		SellLeg:   sellIntent,
		BuyLeg:    buyIntent,
		MinProfit: new(big.Int).Set(minProfit),
		Checked:   req.Checked,
		Status:    types.StatusPending,
		StartedAt: time.Now(),
	}

	before, err := p.client.TokenBalance(ctx, p.cfg.TokenX, p.cfg.Wallet)
	if err != nil {
		return nil, err
	}
	attempt.BalanceBefore = before

	sellCall, err := p.codec.Encode(sellIntent)
	if err != nil {
		return nil, err
	}
	buyCall, err := p.codec.Encode(buyIntent)
	if err != nil {
		return nil, err
	}
	sellGas, err := p.limits.ForRouter(req.SellRouter)
	if err != nil {
		return nil, err
	}
	buyGas, err := p.limits.ForRouter(req.BuyRouter)
	if err != nil {
		return nil, err
	}

	window, err := p.alloc.Allocate(ctx, 2)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.NonceAllocations.Inc()
	}

	// One reference price for the whole attempt; the legs must not race each
	// other on fees.
	gasPrice, err := gas.ReferencePrice(ctx, p.client, p.cfg.MaxGasPrice)
	if err != nil {
		return nil, err
	}

	var (
		outcomes [2]types.LegOutcome
		legErrs  [2]error
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		outcomes[0], legErrs[0] = p.sub.SubmitLeg(ctx, sellCall, window.Nonce(0), gasPrice, sellGas)
		return nil
	})
	g.Go(func() error {
		outcomes[1], legErrs[1] = p.sub.SubmitLeg(ctx, buyCall, window.Nonce(1), gasPrice, buyGas)
		return nil
	})
	g.Wait()

	attempt.SellOutcome = outcomes[0]
	attempt.BuyOutcome = outcomes[1]
	for i, legErr := range legErrs {
		if legErr != nil {
			p.logger.Warn("leg did not settle",
				zap.String("attempt", attempt.ID),
				zap.Int("leg", i+1),
				zap.Error(legErr))
		}
	}

	after, err := p.client.TokenBalance(ctx, p.cfg.TokenX, p.cfg.Wallet)
	if err != nil {
		return attempt, err
	}

	sellOK := legErrs[0] == nil && outcomes[0].Success
	buyOK := legErrs[1] == nil && outcomes[1].Success

	// A leg that timed out has no inclusion result: the signed transaction
	// cannot be canceled and may still land. The attempt stays non-terminal
	// and is not audited, since any terminal status could turn out wrong.
	if errors.Is(legErrs[0], ErrInclusionTimeout) || errors.Is(legErrs[1], ErrInclusionTimeout) {
		p.logger.Warn("attempt outcome unknown, not all legs settled",
			zap.String("attempt", attempt.ID),
			zap.String("sell_tx", outcomes[0].TxHash.Hex()),
			zap.String("buy_tx", outcomes[1].TxHash.Hex()))
		return attempt, ErrInclusionTimeout
	}

	var execErr error
	switch {
	case sellOK && buyOK:
		attempt.Finalize(after, types.StatusCommitted)
	case sellOK != buyOK:
		attempt.Finalize(after, types.StatusPartiallyFilled)
		execErr = &PartialFillError{SellOutcome: outcomes[0], BuyOutcome: outcomes[1]}
	default:
		attempt.Finalize(after, types.StatusFailed)
		execErr = firstLegError(outcomes, legErrs)
	}

	// No rollback exists here: the verdict is informational and a rejection
	// cannot undo anything that already settled.
	verdict := guard.Evaluate(before, after, minProfit, req.Checked)
	if attempt.Status == types.StatusCommitted && !verdict.Accepted {
		p.logger.Warn("committed attempt missed the profit floor",
			zap.String("attempt", attempt.ID),
			zap.String("profit", verdict.Profit.String()),
			zap.String("min_profit", minProfit.String()))
	}

	p.finish(ctx, attempt, verdict)
	return attempt, execErr
}

func firstLegError(outcomes [2]types.LegOutcome, legErrs [2]error) error {
	for i := range outcomes {
		if legErrs[i] != nil {
			return legErrs[i]
		}
		if !outcomes[i].Success {
			return &LegFailedError{Leg: i + 1, Reason: outcomes[i].RevertReason}
		}
	}
	return nil
}

func (p *ParallelPath) finish(ctx context.Context, attempt *types.ArbAttempt, verdict guard.Verdict) {
	p.logger.Info("parallel attempt finished",
		zap.String("attempt", attempt.ID),
		zap.String("status", attempt.Status.String()),
		zap.String("sell", attempt.SellLeg.Router.String()),
		zap.String("buy", attempt.BuyLeg.Router.String()),
		zap.String("profit", attempt.Profit.String()),
		zap.String("verdict", verdict.String()),
		zap.String("sell_tx", attempt.SellOutcome.TxHash.Hex()),
		zap.String("buy_tx", attempt.BuyOutcome.TxHash.Hex()))

	if p.metrics != nil {
		p.metrics.Attempts.WithLabelValues(pathParallel, attempt.Status.String()).Inc()
		p.metrics.ObserveProfit(pathParallel, attempt.Profit)
		if attempt.Status == types.StatusPartiallyFilled {
			p.metrics.PartialFills.Inc()
		}
	}
	if p.recorder != nil {
		if err := p.recorder.Append(ctx, audit.NewRecord(attempt, pathParallel)); err != nil {
			p.logger.Error("audit append failed", zap.String("attempt", attempt.ID), zap.Error(err))
		}
	}
}
