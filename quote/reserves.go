package quote

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vportnov.me/arbot/types"
)

const pairABIJson = `[{"type":"function","name":"getReserves","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view"}]`

// feePerTenThousand approximates each router's take for estimation
// purposes. Estimates feed slippage headroom, not settlement, so a
// constant-product approximation over the canonical pair is good enough
// even for the concentrated-liquidity routers.
var feePerTenThousand = map[types.RouterIdentity]int64{
	types.RouterUniswapV3: 30,
	types.RouterSushiV3:   30,
	types.RouterPancakeV3: 25,
	types.RouterJoeLB:     20,
}

// PairConfig locates one router's canonical pool for the arbitrage pair.
// Token0 must be the pool's token0 so reserve ordering is unambiguous.
type PairConfig struct {
	Pair   common.Address
	Token0 common.Address
}

// ReserveQuoter estimates swap output from on-chain pool reserves using the
// constant-product formula with the router's fee.
type ReserveQuoter struct {
	client *ethclient.Client
	pairs  map[types.RouterIdentity]PairConfig
	abi    abi.ABI
}

// NewReserveQuoter builds a quoter over the configured pair addresses.
func NewReserveQuoter(client *ethclient.Client, pairs map[types.RouterIdentity]PairConfig) (*ReserveQuoter, error) {
	parsed, err := abi.JSON(strings.NewReader(pairABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pair ABI: %w", err)
	}
	return &ReserveQuoter{client: client, pairs: pairs, abi: parsed}, nil
}

// ExpectedOut implements Quoter.
func (q *ReserveQuoter) ExpectedOut(ctx context.Context, r types.RouterIdentity, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	cfg, ok := q.pairs[r]
	if !ok {
		return nil, fmt.Errorf("no pair configured for %s", r)
	}
	reserveIn, reserveOut, err := q.reserves(ctx, cfg, tokenIn)
	if err != nil {
		return nil, err
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, fmt.Errorf("insufficient liquidity on %s", r)
	}
	fee, ok := feePerTenThousand[r]
	if !ok {
		return nil, fmt.Errorf("no fee configured for %s", r)
	}
	return amountOut(amountIn, reserveIn, reserveOut, fee), nil
}

func (q *ReserveQuoter) reserves(ctx context.Context, cfg PairConfig, tokenIn common.Address) (*big.Int, *big.Int, error) {
	data, err := q.abi.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to pack getReserves: %w", err)
	}
	ret, err := q.client.CallContract(ctx, ethereum.CallMsg{To: &cfg.Pair, Data: data}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("getReserves call failed: %w", err)
	}
	out, err := q.abi.Unpack("getReserves", ret)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unpack getReserves: %w", err)
	}
	reserve0 := out[0].(*big.Int)
	reserve1 := out[1].(*big.Int)
	if tokenIn == cfg.Token0 {
		return reserve0, reserve1, nil
	}
	return reserve1, reserve0, nil
}

// amountOut applies the constant-product formula with the fee expressed per
// ten thousand.
func amountOut(amountIn, reserveIn, reserveOut *big.Int, feePerTenK int64) *big.Int {
	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(10_000-feePerTenK))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(
		new(big.Int).Mul(reserveIn, big.NewInt(10_000)),
		amountInWithFee,
	)
	return new(big.Int).Div(numerator, denominator)
}
