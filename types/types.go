package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RouterIdentity identifies one of the supported swap routers. The set is
// closed: encoders are registered per identity and anything outside the set
// is rejected at encode time.
type RouterIdentity int

const (
	RouterUniswapV3 RouterIdentity = iota // SwapRouter02, no embedded deadline
	RouterSushiV3                         // classic ISwapRouter, deadline in params struct
	RouterPancakeV3                       // SwapRouter02 shape wrapped in multicall(deadline, data[])
	RouterJoeLB                           // Liquidity Book v2.1 path swap, bin steps not fee tiers
)

var routerNames = map[RouterIdentity]string{
	RouterUniswapV3: "uniswapv3",
	RouterSushiV3:   "sushiv3",
	RouterPancakeV3: "pancakev3",
	RouterJoeLB:     "joelb",
}

// AllRouters lists every supported identity in registration order.
func AllRouters() []RouterIdentity {
	return []RouterIdentity{RouterUniswapV3, RouterSushiV3, RouterPancakeV3, RouterJoeLB}
}

func (r RouterIdentity) String() string {
	if name, ok := routerNames[r]; ok {
		return name
	}
	return fmt.Sprintf("router(%d)", int(r))
}

// Valid reports whether the identity belongs to the closed set.
func (r RouterIdentity) Valid() bool {
	_, ok := routerNames[r]
	return ok
}

// ParseRouter resolves a configuration name into a RouterIdentity.
func ParseRouter(name string) (RouterIdentity, error) {
	for id, n := range routerNames {
		if n == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown router %q", name)
}

// SwapIntent is the canonical description of one leg: swap AmountIn of
// TokenIn for at least MinAmountOut of TokenOut on Router. Constructed once
// per leg and never mutated afterwards.
type SwapIntent struct {
	Router       RouterIdentity
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Recipient    common.Address
	FeeOrBinStep uint32 // fee tier for V3 dialects, bin step for Liquidity Book
	Deadline     *big.Int
}

// EncodedCall is a router-specific call payload. Opaque to everything except
// the transport layer that sends it.
type EncodedCall struct {
	Target   common.Address
	Selector [4]byte
	Payload  []byte
}

// Data returns the full calldata (selector followed by the ABI payload).
func (c EncodedCall) Data() []byte {
	data := make([]byte, 0, 4+len(c.Payload))
	data = append(data, c.Selector[:]...)
	return append(data, c.Payload...)
}

// LegOutcome is the settlement result of one submitted leg.
type LegOutcome struct {
	Success      bool
	TxHash       common.Hash
	GasUsed      uint64
	RevertReason string
}

// AttemptStatus is the terminal classification of an arbitrage attempt.
type AttemptStatus int

const (
	StatusPending         AttemptStatus = iota
	StatusCommitted                     // both legs settled, attempt accepted
	StatusRolledBack                    // atomic path only: every effect undone
	StatusPartiallyFilled               // parallel path only: one leg settled, one did not
	StatusFailed                        // no leg settled
)

func (s AttemptStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCommitted:
		return "committed"
	case StatusRolledBack:
		return "rolled_back"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// ArbAttempt is the unit of work: sell on one router, buy back on another.
// It is created at the start of an attempt and finalized exactly once when
// both legs have reported; after Finalize it is an append-only audit input.
type ArbAttempt struct {
	ID            string
	SellLeg       SwapIntent
	BuyLeg        SwapIntent
	BalanceBefore *big.Int
	BalanceAfter  *big.Int
	Profit        *big.Int // BalanceAfter - BalanceBefore, sign preserved
	MinProfit     *big.Int
	Checked       bool
	Status        AttemptStatus
	SellOutcome   LegOutcome
	BuyOutcome    LegOutcome
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Finalize records the post-attempt balance and computes signed profit.
// Profit is always after-before, regardless of sign and of Checked mode.
func (a *ArbAttempt) Finalize(after *big.Int, status AttemptStatus) {
	a.BalanceAfter = new(big.Int).Set(after)
	a.Profit = new(big.Int).Sub(a.BalanceAfter, a.BalanceBefore)
	a.Status = status
	a.FinishedAt = time.Now()
}

// NonceWindow is a contiguous range of sender sequence numbers reserved for
// one parallel attempt. Allocated once per attempt; leg i uses Nonce(i).
type NonceWindow struct {
	Base  uint64
	Count uint16
}

// Nonce returns the sequence number for leg i within the window.
func (w NonceWindow) Nonce(i int) uint64 {
	return w.Base + uint64(i)
}

// Overlaps reports whether two windows share any sequence number.
func (w NonceWindow) Overlaps(other NonceWindow) bool {
	return w.Base < other.Base+uint64(other.Count) && other.Base < w.Base+uint64(w.Count)
}
