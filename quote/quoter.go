// Package quote supplies the expected output amount for the parallel path's
// buy leg. The parallel path signs leg 2 before leg 1 settles, so it trades
// on an estimate instead of the real intermediate balance; everything in
// this package exists to make that estimate.
package quote

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vportnov.me/arbot/chain"
	"github.com/vportnov.me/arbot/types"
)

// Quoter returns the expected tokenOut amount for swapping amountIn of
// tokenIn on the given router.
type Quoter interface {
	ExpectedOut(ctx context.Context, r types.RouterIdentity, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
}

// SimQuoter quotes against a simulated ledger's rate table. Used by dry
// runs and tests.
type SimQuoter struct {
	Client *chain.SimClient
}

// ExpectedOut implements Quoter.
func (q *SimQuoter) ExpectedOut(ctx context.Context, r types.RouterIdentity, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	return q.Client.QuoteOut(r, tokenIn, tokenOut, amountIn)
}
