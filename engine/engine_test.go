package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vportnov.me/arbot/audit"
	"github.com/vportnov.me/arbot/chain"
	"github.com/vportnov.me/arbot/gas"
	"github.com/vportnov.me/arbot/noncealloc"
	"github.com/vportnov.me/arbot/quote"
	"github.com/vportnov.me/arbot/router"
	"github.com/vportnov.me/arbot/types"
	"github.com/vportnov.me/arbot/utils/metrics"
)

var (
	fixRouters = router.Addresses{
		UniswapV3: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		SushiV3:   common.HexToAddress("0x2222222222222222222222222222222222222222"),
		PancakeV3: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		JoeLB:     common.HexToAddress("0x4444444444444444444444444444444444444444"),
	}
	fixExecutor = common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	fixTokenX   = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	fixTokenQ   = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
)

type fixture struct {
	sim      *chain.SimClient
	sub      *Submitter
	atomic   *AtomicPath
	parallel *ParallelPath
	alloc    *noncealloc.Allocator
	recorder *audit.Recorder
	owner    common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	chainID := big.NewInt(1337)
	sim, err := chain.NewSimClient(chain.SimConfig{
		ChainID:  chainID,
		Routers:  fixRouters,
		Executor: fixExecutor,
		Owner:    owner,
		TokenX:   fixTokenX,
		TokenQ:   fixTokenQ,
	})
	require.NoError(t, err)

	codec, err := router.NewCodec(fixRouters)
	require.NoError(t, err)
	exec, err := router.NewExecutorCodec(fixExecutor)
	require.NoError(t, err)

	logger := zap.NewNop()
	m := metrics.NewEngineMetrics(prometheus.NewRegistry(), "arbot")
	recorder, err := audit.NewRecorder(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { recorder.Close() })

	sub := NewSubmitter(sim, key, chainID, SubmitterConfig{
		ReceiptPollInterval: time.Millisecond,
		InclusionTimeout:    200 * time.Millisecond,
	}, m, logger)

	limits := gas.DefaultLimits()
	alloc := noncealloc.New(sim, owner)
	return &fixture{
		sim: sim,
		sub: sub,
		atomic: NewAtomicPath(codec, exec, sim, sub, limits, recorder, m, logger, AtomicConfig{
			Owner:  owner,
			TokenX: fixTokenX,
			TokenQ: fixTokenQ,
		}),
		parallel: NewParallelPath(codec, sim, &quote.SimQuoter{Client: sim}, alloc, sub, limits, recorder, m, logger, ParallelConfig{
			Wallet: owner,
			TokenX: fixTokenX,
			TokenQ: fixTokenQ,
		}),
		alloc:    alloc,
		recorder: recorder,
		owner:    owner,
	}
}

// Amounts are scaled by 1000 so fractional quantities stay integral:
// 10_000 = 10 units of the base asset.
func spreadRequest(checked bool) Request {
	return Request{
		SellRouter:       types.RouterUniswapV3,
		BuyRouter:        types.RouterJoeLB,
		AmountIn:         big.NewInt(10_000),
		SellFeeOrBinStep: 3000,
		BuyFeeOrBinStep:  25,
		MinProfit:        big.NewInt(100),
		Checked:          checked,
		Deadline:         big.NewInt(time.Now().Unix() + 600),
	}
}

// Sell 10 on the first venue at 10 quote per base, buy back at a rate that
// returns 10.3, clear a floor of 0.1.
func (f *fixture) setProfitableSpread() {
	f.sim.SetRate(types.RouterUniswapV3, fixTokenX, fixTokenQ, 10, 1)
	f.sim.SetRate(types.RouterJoeLB, fixTokenQ, fixTokenX, 103, 1000)
}

func TestAtomicCommitsProfitableSpread(t *testing.T) {
	f := newFixture(t)
	f.setProfitableSpread()
	f.sim.SetBalance(fixTokenX, fixExecutor, big.NewInt(10_000))

	attempt, err := f.atomic.Execute(context.Background(), spreadRequest(true))
	require.NoError(t, err)

	assert.Equal(t, types.StatusCommitted, attempt.Status)
	assert.Equal(t, big.NewInt(300), attempt.Profit)
	assert.Equal(t, big.NewInt(10_000), attempt.BalanceBefore)
	assert.Equal(t, big.NewInt(10_300), attempt.BalanceAfter)
	assert.True(t, attempt.SellOutcome.Success)
	assert.Equal(t, attempt.SellOutcome.TxHash, attempt.BuyOutcome.TxHash)

	assert.Equal(t, big.NewInt(10_300), f.sim.BalanceOf(fixTokenX, fixExecutor))
	assert.Equal(t, big.NewInt(0), f.sim.BalanceOf(fixTokenQ, fixExecutor))
}

func TestAtomicRollsBackOnBuyLegFailure(t *testing.T) {
	f := newFixture(t)
	f.setProfitableSpread()
	f.sim.SetBalance(fixTokenX, fixExecutor, big.NewInt(10_000))
	f.sim.SetRouterDown(types.RouterJoeLB, "SIM:PAUSED")

	attempt, err := f.atomic.Execute(context.Background(), spreadRequest(true))
	require.Error(t, err)

	var legErr *LegFailedError
	require.ErrorAs(t, err, &legErr)
	assert.Equal(t, 2, legErr.Leg)
	assert.Contains(t, legErr.Reason, "SIM:PAUSED")

	assert.Equal(t, types.StatusRolledBack, attempt.Status)
	assert.Equal(t, big.NewInt(0), attempt.Profit)
	assert.Equal(t, big.NewInt(10_000), f.sim.BalanceOf(fixTokenX, fixExecutor))
	assert.Equal(t, big.NewInt(0), f.sim.BalanceOf(fixTokenQ, fixExecutor))
}

func TestAtomicRollsBackOnSellLegFailure(t *testing.T) {
	f := newFixture(t)
	f.setProfitableSpread()
	f.sim.SetBalance(fixTokenX, fixExecutor, big.NewInt(10_000))
	f.sim.SetRouterDown(types.RouterUniswapV3, "SIM:PAUSED")

	attempt, err := f.atomic.Execute(context.Background(), spreadRequest(true))
	require.Error(t, err)

	var legErr *LegFailedError
	require.ErrorAs(t, err, &legErr)
	assert.Equal(t, 1, legErr.Leg)
	assert.Equal(t, types.StatusRolledBack, attempt.Status)
	assert.Equal(t, big.NewInt(10_000), f.sim.BalanceOf(fixTokenX, fixExecutor))
}

func TestAtomicCheckedRejectsBelowFloor(t *testing.T) {
	f := newFixture(t)
	f.sim.SetRate(types.RouterUniswapV3, fixTokenX, fixTokenQ, 10, 1)
	// Buying back returns 9.9: a 0.1 loss against a 0.1 floor.
	f.sim.SetRate(types.RouterJoeLB, fixTokenQ, fixTokenX, 99, 1000)
	f.sim.SetBalance(fixTokenX, fixExecutor, big.NewInt(10_000))

	attempt, err := f.atomic.Execute(context.Background(), spreadRequest(true))
	require.Error(t, err)

	var unprofitable *UnprofitableError
	require.ErrorAs(t, err, &unprofitable)
	assert.Equal(t, big.NewInt(10_000), unprofitable.Before)
	assert.Equal(t, big.NewInt(9_900), unprofitable.After)

	assert.Equal(t, types.StatusRolledBack, attempt.Status)
	assert.Equal(t, big.NewInt(10_000), f.sim.BalanceOf(fixTokenX, fixExecutor))
}

func TestAtomicUncheckedCommitsLoss(t *testing.T) {
	f := newFixture(t)
	f.sim.SetRate(types.RouterUniswapV3, fixTokenX, fixTokenQ, 10, 1)
	f.sim.SetRate(types.RouterJoeLB, fixTokenQ, fixTokenX, 99, 1000)
	f.sim.SetBalance(fixTokenX, fixExecutor, big.NewInt(10_000))

	attempt, err := f.atomic.Execute(context.Background(), spreadRequest(false))
	require.NoError(t, err)

	assert.Equal(t, types.StatusCommitted, attempt.Status)
	assert.Equal(t, big.NewInt(-100), attempt.Profit)
	assert.Equal(t, big.NewInt(9_900), f.sim.BalanceOf(fixTokenX, fixExecutor))
}

func TestAtomicRejectsNonOwnerSender(t *testing.T) {
	f := newFixture(t)
	f.setProfitableSpread()
	f.atomic.cfg.Owner = common.HexToAddress("0x00000000000000000000000000000000deadbeef")

	attempt, err := f.atomic.Execute(context.Background(), spreadRequest(true))
	assert.Nil(t, attempt)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAtomicContractRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	f.setProfitableSpread()
	f.sim.SetBalance(fixTokenX, fixExecutor, big.NewInt(10_000))

	// The local owner check passes but the deployed contract disagrees.
	otherSim, err := chain.NewSimClient(chain.SimConfig{
		ChainID:  big.NewInt(1337),
		Routers:  fixRouters,
		Executor: fixExecutor,
		Owner:    common.HexToAddress("0x00000000000000000000000000000000deadbeef"),
		TokenX:   fixTokenX,
		TokenQ:   fixTokenQ,
	})
	require.NoError(t, err)
	f.atomic.client = otherSim
	f.atomic.sub.client = otherSim

	attempt, err := f.atomic.Execute(context.Background(), spreadRequest(true))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, types.StatusRolledBack, attempt.Status)
}

func TestParallelCommitsBothLegs(t *testing.T) {
	f := newFixture(t)
	f.setProfitableSpread()
	f.sim.SetBalance(fixTokenX, f.owner, big.NewInt(10_000))

	attempt, err := f.parallel.Execute(context.Background(), spreadRequest(true))
	require.NoError(t, err)

	assert.Equal(t, types.StatusCommitted, attempt.Status)
	assert.Equal(t, big.NewInt(300), attempt.Profit)
	assert.True(t, attempt.SellOutcome.Success)
	assert.True(t, attempt.BuyOutcome.Success)
	assert.NotEqual(t, attempt.SellOutcome.TxHash, attempt.BuyOutcome.TxHash)

	// The buy leg traded the quoted amount, so nothing is stranded in the
	// intermediate asset.
	assert.Equal(t, big.NewInt(10_300), f.sim.BalanceOf(fixTokenX, f.owner))
	assert.Equal(t, big.NewInt(0), f.sim.BalanceOf(fixTokenQ, f.owner))
}

func TestParallelPartialFillWhenBuyRouterDown(t *testing.T) {
	f := newFixture(t)
	f.setProfitableSpread()
	f.sim.SetBalance(fixTokenX, f.owner, big.NewInt(10_000))
	f.sim.SetRouterDown(types.RouterJoeLB, "SIM:PAUSED")

	attempt, err := f.parallel.Execute(context.Background(), spreadRequest(true))
	require.Error(t, err)

	var partial *PartialFillError
	require.ErrorAs(t, err, &partial)
	assert.True(t, partial.SellOutcome.Success)
	assert.False(t, partial.BuyOutcome.Success)
	assert.Contains(t, partial.BuyOutcome.RevertReason, "SIM:PAUSED")

	assert.Equal(t, types.StatusPartiallyFilled, attempt.Status)
	// The wallet is left one-sided: base asset sold, proceeds stuck in the
	// intermediate asset.
	assert.Equal(t, big.NewInt(0), f.sim.BalanceOf(fixTokenX, f.owner))
	assert.Equal(t, big.NewInt(100_000), f.sim.BalanceOf(fixTokenQ, f.owner))
}

func TestParallelFailsWhenBothRoutersDown(t *testing.T) {
	f := newFixture(t)
	f.setProfitableSpread()
	f.sim.SetBalance(fixTokenX, f.owner, big.NewInt(10_000))
	f.sim.SetRouterDown(types.RouterUniswapV3, "SIM:PAUSED")
	f.sim.SetRouterDown(types.RouterJoeLB, "SIM:PAUSED")

	attempt, err := f.parallel.Execute(context.Background(), spreadRequest(true))
	require.Error(t, err)

	var legErr *LegFailedError
	require.ErrorAs(t, err, &legErr)
	assert.Equal(t, types.StatusFailed, attempt.Status)
	assert.Equal(t, big.NewInt(0), attempt.Profit)
	assert.Equal(t, big.NewInt(10_000), f.sim.BalanceOf(fixTokenX, f.owner))
}

func TestParallelStaysPendingWhenLegsNeverSettle(t *testing.T) {
	f := newFixture(t)
	f.setProfitableSpread()
	f.sim.SetBalance(fixTokenX, f.owner, big.NewInt(20_000))

	// Burn a window so the attempt's legs go out at nonces 2 and 3: the pool
	// parks them behind the gap and neither gets a receipt.
	_, err := f.alloc.Allocate(context.Background(), 2)
	require.NoError(t, err)

	attempt, err := f.parallel.Execute(context.Background(), spreadRequest(true))
	require.ErrorIs(t, err, ErrInclusionTimeout)

	// Signed legs without an inclusion result may still land, so no terminal
	// status is reported and nothing is audited.
	assert.Equal(t, types.StatusPending, attempt.Status)
	assert.Nil(t, attempt.BalanceAfter)
	assert.Nil(t, attempt.Profit)
	assert.Equal(t, big.NewInt(20_000), f.sim.BalanceOf(fixTokenX, f.owner))

	records, err := f.recorder.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)

	// The parked legs are live transactions: filling the nonce gap lets
	// both execute.
	codec, err := router.NewCodec(fixRouters)
	require.NoError(t, err)
	for nonce := uint64(0); nonce < 2; nonce++ {
		call, cerr := codec.Encode(types.SwapIntent{
			Router:       types.RouterUniswapV3,
			TokenIn:      fixTokenX,
			TokenOut:     fixTokenQ,
			AmountIn:     big.NewInt(1),
			MinAmountOut: big.NewInt(0),
			Recipient:    f.owner,
			FeeOrBinStep: 3000,
		})
		require.NoError(t, cerr)
		_, serr := f.sub.SubmitLeg(context.Background(), call, nonce, big.NewInt(1), 300_000)
		require.NoError(t, serr)
	}
	// 20_000 minus the two filler sells, minus the sell leg's 10_000, plus
	// the buy leg's 10_300 back.
	assert.Equal(t, big.NewInt(20_298), f.sim.BalanceOf(fixTokenX, f.owner))
}

func TestNilMinProfitDefaultsToZero(t *testing.T) {
	f := newFixture(t)
	f.setProfitableSpread()
	f.sim.SetBalance(fixTokenX, fixExecutor, big.NewInt(10_000))
	f.sim.SetBalance(fixTokenX, f.owner, big.NewInt(10_000))

	req := spreadRequest(true)
	req.MinProfit = nil

	attempt, err := f.atomic.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCommitted, attempt.Status)
	assert.Equal(t, "0", attempt.MinProfit.String())

	attempt, err = f.parallel.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCommitted, attempt.Status)
	assert.Equal(t, "0", attempt.MinProfit.String())
}

func TestParallelCheckedLossStaysCommitted(t *testing.T) {
	f := newFixture(t)
	f.sim.SetRate(types.RouterUniswapV3, fixTokenX, fixTokenQ, 10, 1)
	f.sim.SetRate(types.RouterJoeLB, fixTokenQ, fixTokenX, 99, 1000)
	f.sim.SetBalance(fixTokenX, f.owner, big.NewInt(10_000))

	// Nothing can be undone off chain: a checked attempt that lands below
	// the floor still reports committed with its signed loss.
	attempt, err := f.parallel.Execute(context.Background(), spreadRequest(true))
	require.NoError(t, err)
	assert.Equal(t, types.StatusCommitted, attempt.Status)
	assert.Equal(t, big.NewInt(-100), attempt.Profit)
}

func TestParallelAttemptsUseDistinctNonceWindows(t *testing.T) {
	f := newFixture(t)
	f.setProfitableSpread()
	f.sim.SetRate(types.RouterSushiV3, fixTokenX, fixTokenQ, 10, 1)
	f.sim.SetBalance(fixTokenX, f.owner, big.NewInt(20_000))

	first, err := f.parallel.Execute(context.Background(), spreadRequest(true))
	require.NoError(t, err)

	second := spreadRequest(true)
	second.SellRouter = types.RouterSushiV3
	secondAttempt, err := f.parallel.Execute(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, types.StatusCommitted, first.Status)
	assert.Equal(t, types.StatusCommitted, secondAttempt.Status)
	assert.Equal(t, big.NewInt(20_600), f.sim.BalanceOf(fixTokenX, f.owner))
}

func TestSubmitterTimesOutOnParkedNonce(t *testing.T) {
	f := newFixture(t)
	f.setProfitableSpread()
	f.sim.SetBalance(fixTokenX, f.owner, big.NewInt(10_000))

	codec, err := router.NewCodec(fixRouters)
	require.NoError(t, err)
	call, err := codec.Encode(types.SwapIntent{
		Router:       types.RouterUniswapV3,
		TokenIn:      fixTokenX,
		TokenOut:     fixTokenQ,
		AmountIn:     big.NewInt(1_000),
		MinAmountOut: big.NewInt(0),
		Recipient:    f.owner,
		FeeOrBinStep: 3000,
	})
	require.NoError(t, err)

	// Nonce 5 with nothing before it: the pool parks it and no receipt ever
	// appears.
	outcome, err := f.sub.SubmitLeg(context.Background(), call, 5, big.NewInt(1), 300_000)
	assert.ErrorIs(t, err, ErrInclusionTimeout)
	assert.False(t, outcome.Success)
}

func TestAttemptsAreAudited(t *testing.T) {
	f := newFixture(t)
	f.setProfitableSpread()
	f.sim.SetBalance(fixTokenX, fixExecutor, big.NewInt(10_000))

	attempt, err := f.atomic.Execute(context.Background(), spreadRequest(true))
	require.NoError(t, err)

	records, err := f.recorder.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, attempt.ID, records[0].AttemptID)
	assert.Equal(t, "atomic", records[0].Path)
	assert.Equal(t, "committed", records[0].Status)
	assert.Equal(t, "300", records[0].Profit)
	assert.True(t, records[0].Verify())
}

func TestPickDirection(t *testing.T) {
	f := newFixture(t)
	f.sim.SetRate(types.RouterUniswapV3, fixTokenX, fixTokenQ, 10, 1)
	f.sim.SetRate(types.RouterJoeLB, fixTokenX, fixTokenQ, 97, 10)
	f.sim.SetRate(types.RouterSushiV3, fixTokenX, fixTokenQ, 99, 10)

	dir, err := PickDirection(context.Background(), &quote.SimQuoter{Client: f.sim},
		types.AllRouters(), fixTokenX, fixTokenQ, big.NewInt(10_000))
	require.NoError(t, err)

	assert.Equal(t, types.RouterUniswapV3, dir.Sell)
	assert.Equal(t, types.RouterJoeLB, dir.Buy)
	assert.Equal(t, big.NewInt(3_000), dir.Spread)
}

func TestPickDirectionNeedsTwoQuotes(t *testing.T) {
	f := newFixture(t)
	f.sim.SetRate(types.RouterUniswapV3, fixTokenX, fixTokenQ, 10, 1)

	_, err := PickDirection(context.Background(), &quote.SimQuoter{Client: f.sim},
		types.AllRouters(), fixTokenX, fixTokenQ, big.NewInt(10_000))
	assert.Error(t, err)
}

func TestClassifyRevert(t *testing.T) {
	err := classifyRevert("ARB:UNAUTHORIZED")
	assert.ErrorIs(t, err, ErrUnauthorized)

	var legErr *LegFailedError
	require.ErrorAs(t, classifyRevert("ARB:LEG1:SIM:NO_LIQUIDITY"), &legErr)
	assert.Equal(t, 1, legErr.Leg)
	assert.Equal(t, "SIM:NO_LIQUIDITY", legErr.Reason)

	require.ErrorAs(t, classifyRevert("ARB:LEG2:SIM:SLIPPAGE"), &legErr)
	assert.Equal(t, 2, legErr.Leg)

	var unprofitable *UnprofitableError
	require.ErrorAs(t, classifyRevert("ARB:UNPROFITABLE:10000:9900"), &unprofitable)
	assert.Equal(t, big.NewInt(10000), unprofitable.Before)
	assert.Equal(t, big.NewInt(9900), unprofitable.After)

	assert.False(t, errors.Is(classifyRevert("SIM:UNKNOWN"), ErrUnauthorized))
}
