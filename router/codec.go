// Package router encodes canonical swap intents into router-specific
// calldata. Each supported router speaks its own dialect: a distinct
// selector, field ordering and wrapping convention for what is conceptually
// the same single-hop exact-input swap. The dialect table lives here and
// nowhere else; a wrong struct shape encodes fine and reverts on-chain, so
// every dialect is pinned by golden-vector tests.
package router

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vportnov.me/arbot/types"
)

// Addresses holds the on-chain router addresses, injected at construction.
// Never compiled-in literals: testnets and simulated chains supply their own.
type Addresses struct {
	UniswapV3 common.Address
	SushiV3   common.Address
	PancakeV3 common.Address
	JoeLB     common.Address
}

// UnsupportedRouterError is returned when encoding is requested for a router
// outside the closed set. Programmer error, never retried.
type UnsupportedRouterError struct {
	Router types.RouterIdentity
}

func (e *UnsupportedRouterError) Error() string {
	return fmt.Sprintf("unsupported router %s", e.Router)
}

// dialect is one router's encoder/decoder pair.
type dialect interface {
	encode(intent types.SwapIntent) (types.EncodedCall, error)
	decode(data []byte) (types.SwapIntent, error)
	selector() [4]byte
}

// Codec maps swap intents to encoded calls via a per-router dialect table.
// Stateless after construction; Encode is deterministic and side-effect free.
type Codec struct {
	dialects map[types.RouterIdentity]dialect
}

// NewCodec builds the dialect table for the given router addresses. Adding a
// fifth router means one more registration here, not a new branch at every
// call site.
func NewCodec(addrs Addresses) (*Codec, error) {
	uni, err := newExactInputDialect(types.RouterUniswapV3, addrs.UniswapV3)
	if err != nil {
		return nil, fmt.Errorf("uniswapv3 dialect: %w", err)
	}
	sushi, err := newSushiDialect(addrs.SushiV3)
	if err != nil {
		return nil, fmt.Errorf("sushiv3 dialect: %w", err)
	}
	pancake, err := newPancakeDialect(addrs.PancakeV3)
	if err != nil {
		return nil, fmt.Errorf("pancakev3 dialect: %w", err)
	}
	joe, err := newJoeDialect(addrs.JoeLB)
	if err != nil {
		return nil, fmt.Errorf("joelb dialect: %w", err)
	}

	return &Codec{
		dialects: map[types.RouterIdentity]dialect{
			types.RouterUniswapV3: uni,
			types.RouterSushiV3:   sushi,
			types.RouterPancakeV3: pancake,
			types.RouterJoeLB:     joe,
		},
	}, nil
}

// Encode translates the intent into the target router's wire format.
func (c *Codec) Encode(intent types.SwapIntent) (types.EncodedCall, error) {
	d, ok := c.dialects[intent.Router]
	if !ok {
		return types.EncodedCall{}, &UnsupportedRouterError{Router: intent.Router}
	}
	if err := validateIntent(intent); err != nil {
		return types.EncodedCall{}, fmt.Errorf("encode %s: %w", intent.Router, err)
	}
	return d.encode(intent)
}

// SelectorFor returns the 4-byte selector the router expects for its swap
// entry point (the outermost selector for enveloped dialects).
func (c *Codec) SelectorFor(r types.RouterIdentity) ([4]byte, error) {
	d, ok := c.dialects[r]
	if !ok {
		return [4]byte{}, &UnsupportedRouterError{Router: r}
	}
	return d.selector(), nil
}

// Decode recovers the canonical intent from router calldata. Used by the
// simulated chain and by audit tooling; the inverse of Encode up to fields a
// dialect does not carry (an omitted deadline decodes as nil).
func (c *Codec) Decode(r types.RouterIdentity, data []byte) (types.SwapIntent, error) {
	d, ok := c.dialects[r]
	if !ok {
		return types.SwapIntent{}, &UnsupportedRouterError{Router: r}
	}
	if len(data) < 4 {
		return types.SwapIntent{}, fmt.Errorf("decode %s: calldata too short", r)
	}
	sel := d.selector()
	if [4]byte(data[:4]) != sel {
		return types.SwapIntent{}, fmt.Errorf("decode %s: selector %x does not match %x", r, data[:4], sel)
	}
	intent, err := d.decode(data[4:])
	if err != nil {
		return types.SwapIntent{}, fmt.Errorf("decode %s: %w", r, err)
	}
	intent.Router = r
	return intent, nil
}

func validateIntent(intent types.SwapIntent) error {
	if intent.AmountIn == nil || intent.AmountIn.Sign() <= 0 {
		return fmt.Errorf("amount in must be positive")
	}
	if intent.MinAmountOut == nil {
		return fmt.Errorf("min amount out must be set")
	}
	if intent.TokenIn == intent.TokenOut {
		return fmt.Errorf("token in and token out must differ")
	}
	return nil
}

func requireDeadline(intent types.SwapIntent) (*big.Int, error) {
	if intent.Deadline == nil || intent.Deadline.Sign() <= 0 {
		return nil, fmt.Errorf("deadline required for %s", intent.Router)
	}
	return intent.Deadline, nil
}
