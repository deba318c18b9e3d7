package engine

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/vportnov.me/arbot/chain"
	"github.com/vportnov.me/arbot/types"
	"github.com/vportnov.me/arbot/utils/metrics"
)

const (
	defaultReceiptPoll      = 500 * time.Millisecond
	defaultInclusionTimeout = 90 * time.Second
)

// SubmitterConfig tunes the receipt wait loop.
type SubmitterConfig struct {
	ReceiptPollInterval time.Duration
	InclusionTimeout    time.Duration
}

func (c *SubmitterConfig) withDefaults() SubmitterConfig {
	out := *c
	if out.ReceiptPollInterval <= 0 {
		out.ReceiptPollInterval = defaultReceiptPoll
	}
	if out.InclusionTimeout <= 0 {
		out.InclusionTimeout = defaultInclusionTimeout
	}
	return out
}

// Submitter signs encoded calls, broadcasts them, and waits for inclusion.
// It never chooses nonces or gas prices itself; callers pass both so that
// the two execution paths keep full control over ordering.
type Submitter struct {
	client  chain.Client
	key     *ecdsa.PrivateKey
	chainID *big.Int
	signer  gethtypes.Signer
	sender  common.Address
	cfg     SubmitterConfig
	metrics *metrics.EngineMetrics
	logger  *zap.Logger
}

func NewSubmitter(client chain.Client, key *ecdsa.PrivateKey, chainID *big.Int, cfg SubmitterConfig, m *metrics.EngineMetrics, logger *zap.Logger) *Submitter {
	return &Submitter{
		client:  client,
		key:     key,
		chainID: chainID,
		signer:  gethtypes.LatestSignerForChainID(chainID),
		sender:  crypto.PubkeyToAddress(key.PublicKey),
		cfg:     cfg.withDefaults(),
		metrics: m,
		logger:  logger,
	}
}

func (s *Submitter) Sender() common.Address {
	return s.sender
}

// SubmitLeg signs and broadcasts one leg at the given nonce, then blocks
// until the transaction settles or the inclusion timeout elapses. A settled
// failing leg returns a LegOutcome with Success=false and the decoded revert
// reason, not an error; ErrInclusionTimeout means the leg never settled.
func (s *Submitter) SubmitLeg(ctx context.Context, call types.EncodedCall, nonce uint64, gasPrice *big.Int, gasLimit uint64) (types.LegOutcome, error) {
	target := call.Target
	tx, err := gethtypes.SignNewTx(s.key, s.signer, &gethtypes.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		To:        &target,
		Gas:       gasLimit,
		GasFeeCap: gasPrice,
		GasTipCap: gasPrice,
		Data:      call.Data(),
	})
	if err != nil {
		return types.LegOutcome{}, err
	}

	start := time.Now()
	if err := s.client.SendTransaction(ctx, tx); err != nil {
		return types.LegOutcome{}, err
	}
	if s.metrics != nil {
		s.metrics.SubmitLatency.Observe(time.Since(start).Seconds())
	}
	s.logger.Debug("leg submitted",
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.String("target", target.Hex()))

	outcome, err := s.awaitReceipt(ctx, tx.Hash())
	if err == nil && s.metrics != nil {
		s.metrics.InclusionLatency.Observe(time.Since(start).Seconds())
	}
	return outcome, err
}

func (s *Submitter) awaitReceipt(ctx context.Context, hash common.Hash) (types.LegOutcome, error) {
	deadline := time.Now().Add(s.cfg.InclusionTimeout)
	ticker := time.NewTicker(s.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			outcome := types.LegOutcome{
				Success: receipt.Status == gethtypes.ReceiptStatusSuccessful,
				TxHash:  hash,
				GasUsed: receipt.GasUsed,
			}
			if !outcome.Success {
				reason, rerr := s.client.RevertReason(ctx, hash)
				if rerr != nil {
					s.logger.Warn("revert reason unavailable", zap.String("tx", hash.Hex()), zap.Error(rerr))
				}
				outcome.RevertReason = reason
			}
			return outcome, nil
		}
		if !errors.Is(err, chain.ErrReceiptNotFound) {
			return types.LegOutcome{TxHash: hash}, err
		}
		if time.Now().After(deadline) {
			return types.LegOutcome{TxHash: hash}, ErrInclusionTimeout
		}
		select {
		case <-ctx.Done():
			return types.LegOutcome{TxHash: hash}, ctx.Err()
		case <-ticker.C:
		}
	}
}
