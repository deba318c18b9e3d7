// Package gas provides the parallel path's latency-oriented gas policy: one
// reference price fetch per attempt and fixed, table-driven gas ceilings per
// router instead of a per-transaction estimation round trip. Correctness
// depends on the ceilings being conservative; a too-low entry turns into
// out-of-gas failures at execution time.
package gas

import (
	"context"
	"fmt"
	"math/big"

	"github.com/vportnov.me/arbot/chain"
	"github.com/vportnov.me/arbot/types"
)

// Limits is the per-router gas ceiling table.
type Limits struct {
	PerRouter map[types.RouterIdentity]uint64
	Executor  uint64 // atomic path: both legs plus bookkeeping in one call
}

// DefaultLimits returns conservative ceilings. The concentrated-liquidity
// routers stay well under these; the Liquidity Book path crosses more bins
// and gets headroom for it.
func DefaultLimits() Limits {
	return Limits{
		PerRouter: map[types.RouterIdentity]uint64{
			types.RouterUniswapV3: 300_000,
			types.RouterSushiV3:   300_000,
			types.RouterPancakeV3: 350_000, // multicall envelope overhead
			types.RouterJoeLB:     450_000,
		},
		Executor: 900_000,
	}
}

// ForRouter returns the ceiling for one leg on the given router.
func (l Limits) ForRouter(r types.RouterIdentity) (uint64, error) {
	limit, ok := l.PerRouter[r]
	if !ok {
		return 0, fmt.Errorf("no gas limit configured for %s", r)
	}
	return limit, nil
}

// ReferencePrice fetches the gas price once; both legs of an attempt reuse
// it, capped by maxPrice when one is configured.
func ReferencePrice(ctx context.Context, client chain.Client, maxPrice *big.Int) (*big.Int, error) {
	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	if maxPrice != nil && maxPrice.Sign() > 0 && price.Cmp(maxPrice) > 0 {
		return new(big.Int).Set(maxPrice), nil
	}
	return price, nil
}
