package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vportnov.me/arbot/quote"
	"github.com/vportnov.me/arbot/types"
)

// Direction is a candidate attempt: sell where the base asset fetches the
// most quote asset, buy back where it costs the least.
type Direction struct {
	Sell types.RouterIdentity
	Buy  types.RouterIdentity
	// Spread is the quote-asset difference between the two venues for the
	// probed amount, before gas.
	Spread *big.Int
}

// PickDirection quotes amountIn of tokenX against tokenQ on every candidate
// router and returns the widest sell/buy pairing. Routers that fail to quote
// are skipped; at least two must answer.
func PickDirection(ctx context.Context, q quote.Quoter, routers []types.RouterIdentity, tokenX, tokenQ common.Address, amountIn *big.Int) (Direction, error) {
	type quoted struct {
		router types.RouterIdentity
		out    *big.Int
	}
	var quotes []quoted
	for _, r := range routers {
		out, err := q.ExpectedOut(ctx, r, tokenX, tokenQ, amountIn)
		if err != nil {
			continue
		}
		quotes = append(quotes, quoted{router: r, out: out})
	}
	if len(quotes) < 2 {
		return Direction{}, fmt.Errorf("need quotes from at least two routers, got %d", len(quotes))
	}

	best, worst := quotes[0], quotes[0]
	for _, qt := range quotes[1:] {
		if qt.out.Cmp(best.out) > 0 {
			best = qt
		}
		if qt.out.Cmp(worst.out) < 0 {
			worst = qt
		}
	}
	if best.router == worst.router {
		return Direction{}, fmt.Errorf("no spread across %d routers", len(quotes))
	}
	return Direction{
		Sell:   best.router,
		Buy:    worst.router,
		Spread: new(big.Int).Sub(best.out, worst.out),
	}, nil
}
