package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const erc20ABIJson = `[{"type":"function","name":"balanceOf","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}]`

// receiptCacheSize bounds the settled-receipt cache. Receipts for settled
// transactions are immutable, so caching them saves repeated RPC round trips
// while the orchestrator and the audit layer both look at the same outcome.
const receiptCacheSize = 512

// EthClientConfig tunes the RPC wrapper.
type EthClientConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// EthClient implements Client on top of an Ethereum JSON-RPC endpoint, with
// request rate limiting and a small receipt cache.
type EthClient struct {
	ec       *ethclient.Client
	limiter  *rate.Limiter
	receipts *lru.Cache
	erc20    abi.ABI
	chainID  *big.Int
	logger   *zap.Logger
}

// NewEthClient wraps an existing RPC connection.
func NewEthClient(ctx context.Context, ec *ethclient.Client, cfg EthClientConfig, logger *zap.Logger) (*EthClient, error) {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 40
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}
	cache, err := lru.New(receiptCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create receipt cache: %w", err)
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}

	return &EthClient{
		ec:       ec,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		receipts: cache,
		erc20:    parsed,
		chainID:  chainID,
		logger:   logger,
	}, nil
}

func (c *EthClient) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// ChainID returns the cached chain identifier.
func (c *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

// TokenBalance reads balanceOf(account) on the token contract.
func (c *EthClient) TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	data, err := c.erc20.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}
	ret, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	out, err := c.erc20.Unpack("balanceOf", ret)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf: %w", err)
	}
	return out[0].(*big.Int), nil
}

// PendingNonceAt returns the sender's pending transaction count.
func (c *EthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.ec.PendingNonceAt(ctx, account)
}

// SuggestGasPrice returns the node's gas price suggestion.
func (c *EthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ec.SuggestGasPrice(ctx)
}

// SendTransaction submits a signed transaction.
func (c *EthClient) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.ec.SendTransaction(ctx, tx)
}

// TransactionReceipt returns the receipt, caching settled results.
func (c *EthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	if cached, ok := c.receipts.Get(txHash); ok {
		return cached.(*gethtypes.Receipt), nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	receipt, err := c.ec.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	c.receipts.Add(txHash, receipt)
	return receipt, nil
}

// RevertReason replays a failed transaction as a call at its inclusion block
// and decodes the revert payload. Best effort: nodes without archive state
// or nonstandard reverts yield an empty reason, never an error that masks
// the original failure.
func (c *EthClient) RevertReason(ctx context.Context, txHash common.Hash) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	tx, _, err := c.ec.TransactionByHash(ctx, txHash)
	if err != nil {
		return "", fmt.Errorf("failed to load transaction: %w", err)
	}
	receipt, err := c.TransactionReceipt(ctx, txHash)
	if err != nil {
		return "", err
	}
	signer := gethtypes.LatestSignerForChainID(c.chainID)
	from, err := gethtypes.Sender(signer, tx)
	if err != nil {
		return "", fmt.Errorf("failed to recover sender: %w", err)
	}

	msg := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	ret, callErr := c.ec.CallContract(ctx, msg, receipt.BlockNumber)
	if callErr == nil {
		return "", nil
	}
	if reason, ok := unpackRevert(ret); ok {
		return reason, nil
	}
	var dataErr rpc.DataError
	if errors.As(callErr, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if reason, ok := unpackRevert(common.FromHex(hexData)); ok {
				return reason, nil
			}
		}
	}
	return callErr.Error(), nil
}

func unpackRevert(ret []byte) (string, bool) {
	if len(ret) == 0 {
		return "", false
	}
	reason, err := abi.UnpackRevert(ret)
	if err != nil {
		return "", false
	}
	return reason, true
}
