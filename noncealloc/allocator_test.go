package noncealloc

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vportnov.me/arbot/types"
)

// stuckNonceClient reports a frozen pending nonce, the way a node does while
// earlier transactions sit unconfirmed in its pool.
type stuckNonceClient struct {
	pending uint64
}

func (c *stuckNonceClient) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1337), nil
}

func (c *stuckNonceClient) TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *stuckNonceClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.pending, nil
}

func (c *stuckNonceClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (c *stuckNonceClient) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	return nil
}

func (c *stuckNonceClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	return nil, nil
}

func (c *stuckNonceClient) RevertReason(ctx context.Context, txHash common.Hash) (string, error) {
	return "", nil
}

func TestAllocateAdvancesPastPendingNonce(t *testing.T) {
	a := New(&stuckNonceClient{pending: 7}, common.Address{})

	first, err := a.Allocate(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), first.Base)
	assert.Equal(t, uint64(8), first.Nonce(1))

	// The pending count has not moved, but the window must not be reissued.
	second, err := a.Allocate(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), second.Base)
	assert.False(t, first.Overlaps(second))
}

func TestAllocateFollowsChainWhenAhead(t *testing.T) {
	client := &stuckNonceClient{pending: 0}
	a := New(client, common.Address{})

	_, err := a.Allocate(context.Background(), 2)
	require.NoError(t, err)

	// Transactions from elsewhere moved the chain past the local mark.
	client.pending = 50
	w, err := a.Allocate(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), w.Base)
}

func TestAllocateRejectsBadLegCounts(t *testing.T) {
	a := New(&stuckNonceClient{}, common.Address{})

	_, err := a.Allocate(context.Background(), 0)
	assert.Error(t, err)
	_, err = a.Allocate(context.Background(), -1)
	assert.Error(t, err)
	_, err = a.Allocate(context.Background(), 1<<17)
	assert.Error(t, err)
}

func TestConcurrentWindowsNeverOverlap(t *testing.T) {
	a := New(&stuckNonceClient{pending: 3}, common.Address{})

	const attempts = 64
	windows := make([]types.NonceWindow, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := a.Allocate(context.Background(), 2)
			assert.NoError(t, err)
			windows[i] = w
		}(i)
	}
	wg.Wait()

	for i := 0; i < attempts; i++ {
		for j := i + 1; j < attempts; j++ {
			assert.False(t, windows[i].Overlaps(windows[j]),
				"windows %d and %d overlap: %+v %+v", i, j, windows[i], windows[j])
		}
	}
}
