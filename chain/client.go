// Package chain abstracts the ledger client the execution engine talks to:
// balance reads, transaction counts, submission and inclusion results. The
// production implementation wraps an Ethereum RPC client; the simulated
// implementation backs dry runs and tests with an in-process ledger that
// enacts the executor contract's atomic semantics.
package chain

import (
	"context"
	"errors"
	"math/big"

	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum/go-ethereum/common"
)

// ErrReceiptNotFound is returned while a transaction is still pending.
var ErrReceiptNotFound = errors.New("receipt not available")

// Client is the engine's only view of the ledger.
type Client interface {
	// ChainID returns the chain identifier used for transaction signing.
	ChainID(ctx context.Context) (*big.Int, error)

	// TokenBalance reads the ERC-20 balance of account for token.
	TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error)

	// PendingNonceAt returns the sender's next usable sequence number.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// SuggestGasPrice returns the current reference gas price.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// SendTransaction submits a signed transaction.
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error

	// TransactionReceipt returns the inclusion result, or ErrReceiptNotFound
	// while the transaction is pending.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)

	// RevertReason recovers the revert reason of a failed transaction, best
	// effort. Empty string when no reason is recoverable.
	RevertReason(ctx context.Context, txHash common.Hash) (string, error)
}
