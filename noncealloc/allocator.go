// Package noncealloc hands out contiguous, non-overlapping nonce windows
// for legs submitted concurrently from the same sender. The sender's nonce
// counter is the one piece of shared mutable state between attempts, so
// allocation is a single read-allocate-commit critical section; two
// concurrent attempts that interleaved here would produce colliding windows
// and stall each other.
package noncealloc

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vportnov.me/arbot/chain"
	"github.com/vportnov.me/arbot/types"
)

// Allocator reserves nonce windows for one sender.
type Allocator struct {
	mu        sync.Mutex
	client    chain.Client
	sender    common.Address
	highWater uint64 // first nonce not yet handed out
	primed    bool
}

// New creates an allocator for the given sender.
func New(client chain.Client, sender common.Address) *Allocator {
	return &Allocator{client: client, sender: sender}
}

// Allocate reserves a window of legCount consecutive nonces. Called exactly
// once per parallel attempt. The base is the higher of the sender's pending
// count and the local high-water mark, so windows handed to attempts whose
// transactions have not reached the chain yet are never reissued.
func (a *Allocator) Allocate(ctx context.Context, legCount int) (types.NonceWindow, error) {
	if legCount <= 0 || legCount > math.MaxUint16 {
		return types.NonceWindow{}, fmt.Errorf("invalid leg count %d", legCount)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	pending, err := a.client.PendingNonceAt(ctx, a.sender)
	if err != nil {
		return types.NonceWindow{}, fmt.Errorf("failed to read pending nonce: %w", err)
	}

	base := pending
	if a.primed && a.highWater > base {
		base = a.highWater
	}
	a.highWater = base + uint64(legCount)
	a.primed = true

	return types.NonceWindow{Base: base, Count: uint16(legCount)}, nil
}
