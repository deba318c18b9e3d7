package engine

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vportnov.me/arbot/audit"
	"github.com/vportnov.me/arbot/chain"
	"github.com/vportnov.me/arbot/gas"
	"github.com/vportnov.me/arbot/guard"
	"github.com/vportnov.me/arbot/router"
	"github.com/vportnov.me/arbot/types"
	"github.com/vportnov.me/arbot/utils/metrics"
)

const pathAtomic = "atomic"

// Request describes one two-legged attempt: sell AmountIn of the base asset
// on SellRouter, buy it back on BuyRouter. Both paths consume the same shape.
type Request struct {
	SellRouter       types.RouterIdentity
	BuyRouter        types.RouterIdentity
	AmountIn         *big.Int
	MinAmountOut     *big.Int // slippage floor for the sell leg, zero disables
	SellFeeOrBinStep uint32
	BuyFeeOrBinStep  uint32
	MinProfit        *big.Int
	Checked          bool
	Deadline         *big.Int
}

// AtomicConfig wires the addresses an atomic attempt touches. Owner is the
// only account the executor contract accepts calls from; TokenX is the asset
// profit is measured in, TokenQ the intermediate.
type AtomicConfig struct {
	Owner       common.Address
	TokenX      common.Address
	TokenQ      common.Address
	MaxGasPrice *big.Int
}

// AtomicPath runs both legs inside a single executor-contract transaction.
// Either the whole round trip commits or the contract unwinds every effect,
// so no attempt can strand a one-sided position. The contract rebuilds the
// buy leg from the sell leg's actual proceeds, which removes intermediate
// slippage drift entirely.
type AtomicPath struct {
	codec    *router.Codec
	exec     *router.ExecutorCodec
	client   chain.Client
	sub      *Submitter
	limits   gas.Limits
	recorder *audit.Recorder
	metrics  *metrics.EngineMetrics
	logger   *zap.Logger
	cfg      AtomicConfig
}

func NewAtomicPath(codec *router.Codec, exec *router.ExecutorCodec, client chain.Client, sub *Submitter, limits gas.Limits, recorder *audit.Recorder, m *metrics.EngineMetrics, logger *zap.Logger, cfg AtomicConfig) *AtomicPath {
	return &AtomicPath{
		codec:    codec,
		exec:     exec,
		client:   client,
		sub:      sub,
		limits:   limits,
		recorder: recorder,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
	}
}

// Execute runs one atomic attempt end to end. The returned attempt is always
// populated and audited even when err is non-nil; a nil error means the
// attempt committed.
func (p *AtomicPath) Execute(ctx context.Context, req Request) (*types.ArbAttempt, error) {
	if p.sub.Sender() != p.cfg.Owner {
		return nil, ErrUnauthorized
	}

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
		Recipient:    p.exec.Target(),
		FeeOrBinStep: req.SellFeeOrBinStep,
		Deadline:     req.Deadline,
	}
	attempt := &types.ArbAttempt{
		ID:      uuid.NewString(),
		SellLeg: sellIntent,
		BuyLeg: types.SwapIntent{
			// The buy amount is decided on chain from the sell leg's real
			// proceeds, so only the routing parameters are known up front.
			Router:       req.BuyRouter,
			TokenIn:      p.cfg.TokenQ,
			TokenOut:     p.cfg.TokenX,
			Recipient:    p.exec.Target(),
			FeeOrBinStep: req.BuyFeeOrBinStep,
		},
		MinProfit: new(big.Int).Set(minProfit),
		Checked:   req.Checked,
		Status:    types.StatusPending,
		StartedAt: time.Now(),
	}

	before, err := p.client.TokenBalance(ctx, p.cfg.TokenX, p.exec.Target())
	if err != nil {
		return nil, err
	}
	attempt.BalanceBefore = before

	sellCall, err := p.codec.Encode(sellIntent)
	if err != nil {
		return nil, err
	}
	execCall, err := p.exec.EncodeExecute(sellCall, req.BuyRouter, req.BuyFeeOrBinStep, minProfit, req.Checked)
	if err != nil {
		return nil, err
	}

	nonce, err := p.client.PendingNonceAt(ctx, p.sub.Sender())
	if err != nil {
		return nil, err
	}
	gasPrice, err := gas.ReferencePrice(ctx, p.client, p.cfg.MaxGasPrice)
	if err != nil {
		return nil, err
	}

	outcome, err := p.sub.SubmitLeg(ctx, execCall, nonce, gasPrice, p.limits.Executor)
	// One transaction carries both legs: the outcome applies to each.
	attempt.SellOutcome = outcome
	attempt.BuyOutcome = outcome
	if err != nil {
		return attempt, err
	}

	after, err := p.client.TokenBalance(ctx, p.cfg.TokenX, p.exec.Target())
	if err != nil {
		return attempt, err
	}

	if !outcome.Success {
		execErr := classifyRevert(outcome.RevertReason)
		attempt.Finalize(after, types.StatusRolledBack)
		p.finish(ctx, attempt, nil)
		return attempt, execErr
	}

	attempt.Finalize(after, types.StatusCommitted)
	verdict := guard.Evaluate(before, after, minProfit, req.Checked)
	p.finish(ctx, attempt, &verdict)
	return attempt, nil
}

func (p *AtomicPath) finish(ctx context.Context, attempt *types.ArbAttempt, verdict *guard.Verdict) {
	fields := []zap.Field{
		zap.String("attempt", attempt.ID),
		zap.String("status", attempt.Status.String()),
		zap.String("sell", attempt.SellLeg.Router.String()),
		zap.String("buy", attempt.BuyLeg.Router.String()),
		zap.String("profit", attempt.Profit.String()),
		zap.String("tx", attempt.SellOutcome.TxHash.Hex()),
	}
	if verdict != nil {
		fields = append(fields, zap.String("verdict", verdict.String()))
	}
	p.logger.Info("atomic attempt finished", fields...)

	if p.metrics != nil {
		p.metrics.Attempts.WithLabelValues(pathAtomic, attempt.Status.String()).Inc()
		p.metrics.ObserveProfit(pathAtomic, attempt.Profit)
	}
	if p.recorder != nil {
		if err := p.recorder.Append(ctx, audit.NewRecord(attempt, pathAtomic)); err != nil {
			p.logger.Error("audit append failed", zap.String("attempt", attempt.ID), zap.Error(err))
		}
	}
}
