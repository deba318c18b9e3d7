package audit

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vportnov.me/arbot/types"
)

func sampleAttempt(id string, status types.AttemptStatus) *types.ArbAttempt {
	a := &types.ArbAttempt{
		ID: id,
		SellLeg: types.SwapIntent{
			Router:   types.RouterUniswapV3,
			TokenIn:  common.HexToAddress("0xbb"),
			TokenOut: common.HexToAddress("0xaa"),
			AmountIn: big.NewInt(10_000),
		},
		BuyLeg: types.SwapIntent{
			Router: types.RouterJoeLB,
		},
		BalanceBefore: big.NewInt(10_000),
		MinProfit:     big.NewInt(100),
		Checked:       true,
		StartedAt:     time.Now(),
		SellOutcome:   types.LegOutcome{Success: true, TxHash: common.HexToHash("0x01")},
		BuyOutcome:    types.LegOutcome{Success: true, TxHash: common.HexToHash("0x02")},
	}
	a.Finalize(big.NewInt(10_300), status)
	return a
}

func TestRecordChecksumDetectsTampering(t *testing.T) {
	rec := NewRecord(sampleAttempt("a-1", types.StatusCommitted), "atomic")
	assert.True(t, rec.Verify())

	tampered := rec
	tampered.Profit = "9999999"
	assert.False(t, tampered.Verify())
}

func TestRecorderAppendAndRecent(t *testing.T) {
	r, err := NewRecorder(":memory:", zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	require.NoError(t, r.Append(ctx, NewRecord(sampleAttempt("a-1", types.StatusCommitted), "atomic")))
	time.Sleep(5 * time.Millisecond) // keep created_at ordering unambiguous
	require.NoError(t, r.Append(ctx, NewRecord(sampleAttempt("a-2", types.StatusPartiallyFilled), "parallel")))

	records, err := r.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, rec := range records {
		assert.True(t, rec.Verify())
	}
	assert.Equal(t, "a-2", records[0].AttemptID)
	assert.Equal(t, "parallel", records[0].Path)
	assert.Equal(t, "partially_filled", records[0].Status)
	assert.Equal(t, "a-1", records[1].AttemptID)
	assert.Equal(t, "300", records[1].Profit)
}

func TestRecorderRejectsDuplicateAttemptID(t *testing.T) {
	r, err := NewRecorder(":memory:", zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	rec := NewRecord(sampleAttempt("a-1", types.StatusCommitted), "atomic")
	require.NoError(t, r.Append(ctx, rec))
	assert.Error(t, r.Append(ctx, rec))
}
