package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/vportnov.me/arbot/router"
	"github.com/vportnov.me/arbot/types"
)

// Simulated gas accounting. Rough but stable, so dry runs produce
// reproducible cost figures.
const (
	simGasSwap   = 150_000
	simGasAtomic = 420_000
	simGasFailed = 60_000
)

// SimConfig wires the simulated ledger: router and token addresses plus the
// executor deployment. Addresses are injected, mirroring production.
type SimConfig struct {
	ChainID  *big.Int
	Routers  router.Addresses
	Executor common.Address
	Owner    common.Address
	TokenX   common.Address
	TokenQ   common.Address
	GasPrice *big.Int
}

type rateKey struct {
	router   types.RouterIdentity
	tokenIn  common.Address
	tokenOut common.Address
}

type simRate struct {
	num *big.Int
	den *big.Int
}

type simRevert struct {
	reason string
}

func (e *simRevert) Error() string { return e.reason }

func revertWith(reason string) *simRevert { return &simRevert{reason: reason} }

// SimClient is an in-process ledger implementing Client. Transactions to a
// router address enact that router's swap against a configured rate table;
// transactions to the executor address enact the atomic contract semantics,
// including full rollback on leg failure or a missed profit floor. Future
// nonces are parked the way a node's transaction pool parks them, so a
// missing earlier leg stalls the later one instead of executing it.
type SimClient struct {
	mu     sync.Mutex
	cfg    SimConfig
	codec  *router.Codec
	exec   *router.ExecutorCodec
	signer gethtypes.Signer

	balances     map[common.Address]map[common.Address]*big.Int
	nonces       map[common.Address]uint64
	parked       map[common.Address]map[uint64]*gethtypes.Transaction
	receipts     map[common.Hash]*gethtypes.Receipt
	reasons      map[common.Hash]string
	rates        map[rateKey]simRate
	downRouters  map[types.RouterIdentity]string
	routerByAddr map[common.Address]types.RouterIdentity
	blockNumber  uint64
}

// NewSimClient builds a simulated ledger for the given deployment.
func NewSimClient(cfg SimConfig) (*SimClient, error) {
	if cfg.ChainID == nil {
		cfg.ChainID = big.NewInt(1337)
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = big.NewInt(1_000_000_000) // 1 gwei
	}
	codec, err := router.NewCodec(cfg.Routers)
	if err != nil {
		return nil, err
	}
	exec, err := router.NewExecutorCodec(cfg.Executor)
	if err != nil {
		return nil, err
	}

	return &SimClient{
		cfg:         cfg,
		codec:       codec,
		exec:        exec,
		signer:      gethtypes.LatestSignerForChainID(cfg.ChainID),
		balances:    make(map[common.Address]map[common.Address]*big.Int),
		nonces:      make(map[common.Address]uint64),
		parked:      make(map[common.Address]map[uint64]*gethtypes.Transaction),
		receipts:    make(map[common.Hash]*gethtypes.Receipt),
		reasons:     make(map[common.Hash]string),
		rates:       make(map[rateKey]simRate),
		downRouters: make(map[types.RouterIdentity]string),
		routerByAddr: map[common.Address]types.RouterIdentity{
			cfg.Routers.UniswapV3: types.RouterUniswapV3,
			cfg.Routers.SushiV3:   types.RouterSushiV3,
			cfg.Routers.PancakeV3: types.RouterPancakeV3,
			cfg.Routers.JoeLB:     types.RouterJoeLB,
		},
	}, nil
}

// SetBalance sets holder's balance of token.
func (s *SimClient) SetBalance(token, holder common.Address, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setBalance(token, holder, amount)
}

// BalanceOf reads a balance for inspection in tests and dry-run reports.
func (s *SimClient) BalanceOf(token, holder common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.balance(token, holder))
}

// SetRate configures a router's tokenIn->tokenOut rate: out = in * num/den.
func (s *SimClient) SetRate(r types.RouterIdentity, tokenIn, tokenOut common.Address, num, den int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[rateKey{r, tokenIn, tokenOut}] = simRate{num: big.NewInt(num), den: big.NewInt(den)}
}

// QuoteOut returns the rate-table output for a swap without executing it.
// Backs the simulated quoter.
func (s *SimClient) QuoteOut(r types.RouterIdentity, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.rates[rateKey{r, tokenIn, tokenOut}]
	if !ok {
		return nil, fmt.Errorf("no rate configured for %s %s->%s", r, tokenIn.Hex(), tokenOut.Hex())
	}
	out := new(big.Int).Mul(amountIn, rt.num)
	return out.Div(out, rt.den), nil
}

// SetRouterDown makes every call to the router revert with reason.
func (s *SimClient) SetRouterDown(r types.RouterIdentity, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downRouters[r] = reason
}

// ClearRouterDown restores a downed router.
func (s *SimClient) ClearRouterDown(r types.RouterIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.downRouters, r)
}

// ChainID implements Client.
func (s *SimClient) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.cfg.ChainID), nil
}

// TokenBalance implements Client.
func (s *SimClient) TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return s.BalanceOf(token, account), nil
}

// PendingNonceAt implements Client.
func (s *SimClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonces[account], nil
}

// SuggestGasPrice implements Client.
func (s *SimClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.cfg.GasPrice), nil
}

// SendTransaction implements Client. A transaction with the next expected
// nonce executes immediately; a future nonce parks until the gap closes, the
// way a transaction pool behaves when an earlier leg is missing.
func (s *SimClient) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	from, err := gethtypes.Sender(s.signer, tx)
	if err != nil {
		return fmt.Errorf("failed to recover sender: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.nonces[from]
	switch {
	case tx.Nonce() < next:
		return fmt.Errorf("nonce too low: have %d, state %d", tx.Nonce(), next)
	case tx.Nonce() > next:
		if s.parked[from] == nil {
			s.parked[from] = make(map[uint64]*gethtypes.Transaction)
		}
		s.parked[from][tx.Nonce()] = tx
		return nil
	}

	s.apply(from, tx)
	for {
		queued, ok := s.parked[from][s.nonces[from]]
		if !ok {
			break
		}
		delete(s.parked[from], s.nonces[from])
		s.apply(from, queued)
	}
	return nil
}

// TransactionReceipt implements Client.
func (s *SimClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	receipt, ok := s.receipts[txHash]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	return receipt, nil
}

// RevertReason implements Client.
func (s *SimClient) RevertReason(ctx context.Context, txHash common.Hash) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reasons[txHash], nil
}

func (s *SimClient) apply(from common.Address, tx *gethtypes.Transaction) {
	s.blockNumber++
	s.nonces[from] = tx.Nonce() + 1

	var execErr *simRevert
	gasUsed := uint64(simGasSwap)

	switch {
	case tx.To() == nil:
		execErr = revertWith("SIM:CONTRACT_CREATION_UNSUPPORTED")
	case *tx.To() == s.cfg.Executor:
		gasUsed = simGasAtomic
		execErr = s.runAtomic(from, tx.Data())
	default:
		if r, ok := s.routerByAddr[*tx.To()]; ok {
			execErr = s.runSwap(r, from, tx.Data())
		} else {
			execErr = revertWith("SIM:UNKNOWN_TARGET")
		}
	}

	status := gethtypes.ReceiptStatusSuccessful
	if execErr != nil {
		status = gethtypes.ReceiptStatusFailed
		gasUsed = simGasFailed
		s.reasons[tx.Hash()] = execErr.reason
	}
	s.receipts[tx.Hash()] = &gethtypes.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		GasUsed:     gasUsed,
		BlockNumber: new(big.Int).SetUint64(s.blockNumber),
	}
}

// runSwap enacts one router swap: debit caller's tokenIn, credit the
// recipient's tokenOut at the configured rate.
func (s *SimClient) runSwap(r types.RouterIdentity, caller common.Address, data []byte) *simRevert {
	if reason, down := s.downRouters[r]; down {
		return revertWith(reason)
	}
	intent, err := s.codec.Decode(r, data)
	if err != nil {
		return revertWith("SIM:BAD_CALLDATA")
	}
	if intent.Deadline != nil && intent.Deadline.Int64() < time.Now().Unix() {
		return revertWith("SIM:EXPIRED")
	}
	rt, ok := s.rates[rateKey{r, intent.TokenIn, intent.TokenOut}]
	if !ok {
		return revertWith("SIM:NO_LIQUIDITY")
	}
	balance := s.balance(intent.TokenIn, caller)
	if balance.Cmp(intent.AmountIn) < 0 {
		return revertWith("SIM:INSUFFICIENT_BALANCE")
	}
	out := new(big.Int).Mul(intent.AmountIn, rt.num)
	out.Div(out, rt.den)
	if out.Cmp(intent.MinAmountOut) < 0 {
		return revertWith("SIM:SLIPPAGE")
	}

	s.setBalance(intent.TokenIn, caller, new(big.Int).Sub(balance, intent.AmountIn))
	recipientBal := s.balance(intent.TokenOut, intent.Recipient)
	s.setBalance(intent.TokenOut, intent.Recipient, new(big.Int).Add(recipientBal, out))
	return nil
}

// runAtomic enacts the executor contract: leg 1 from pre-built calldata,
// leg 2 rebuilt from the actual intermediate quote-asset balance, profit
// check last. Any failure restores the pre-attempt balance snapshot.
func (s *SimClient) runAtomic(from common.Address, data []byte) *simRevert {
	args, err := s.exec.DecodeExecute(data)
	if err != nil {
		return revertWith("SIM:BAD_CALLDATA")
	}
	if from != s.cfg.Owner {
		return revertWith(router.RevertUnauthorized)
	}
	sellRouter, ok := s.routerByAddr[args.SellTarget]
	if !ok {
		return revertWith(router.RevertLeg1Prefix + ":SIM:UNKNOWN_TARGET")
	}

	snapshot := s.snapshot()
	before := new(big.Int).Set(s.balance(s.cfg.TokenX, s.cfg.Executor))

	if legErr := s.runSwap(sellRouter, s.cfg.Executor, args.SellData); legErr != nil {
		s.restore(snapshot)
		return revertWith(router.RevertLeg1Prefix + ":" + legErr.reason)
	}

	// The buy leg consumes whatever quote balance leg 1 actually produced,
	// never the caller's estimate.
	quoteBalance := new(big.Int).Set(s.balance(s.cfg.TokenQ, s.cfg.Executor))
	buyCall, err := s.codec.Encode(types.SwapIntent{
		Router:       types.RouterIdentity(args.BuyRouter),
		TokenIn:      s.cfg.TokenQ,
		TokenOut:     s.cfg.TokenX,
		AmountIn:     quoteBalance,
		MinAmountOut: big.NewInt(0),
		Recipient:    s.cfg.Executor,
		FeeOrBinStep: uint32(args.BuyFeeOrBinStep.Uint64()),
		Deadline:     big.NewInt(time.Now().Unix() + 300),
	})
	if err != nil {
		s.restore(snapshot)
		return revertWith(router.RevertLeg2Prefix + ":SIM:BAD_CALLDATA")
	}
	if legErr := s.runSwap(types.RouterIdentity(args.BuyRouter), s.cfg.Executor, buyCall.Data()); legErr != nil {
		s.restore(snapshot)
		return revertWith(router.RevertLeg2Prefix + ":" + legErr.reason)
	}

	after := s.balance(s.cfg.TokenX, s.cfg.Executor)
	profit := new(big.Int).Sub(after, before)
	if args.Checked && profit.Cmp(args.MinProfit) < 0 {
		afterCopy := new(big.Int).Set(after)
		s.restore(snapshot)
		return revertWith(fmt.Sprintf("%s:%s:%s", router.RevertUnprofitablePrefix, before, afterCopy))
	}
	return nil
}

func (s *SimClient) balance(token, holder common.Address) *big.Int {
	if holders, ok := s.balances[token]; ok {
		if bal, ok := holders[holder]; ok {
			return bal
		}
	}
	return big.NewInt(0)
}

func (s *SimClient) setBalance(token, holder common.Address, amount *big.Int) {
	if s.balances[token] == nil {
		s.balances[token] = make(map[common.Address]*big.Int)
	}
	s.balances[token][holder] = new(big.Int).Set(amount)
}

func (s *SimClient) snapshot() map[common.Address]map[common.Address]*big.Int {
	snap := make(map[common.Address]map[common.Address]*big.Int, len(s.balances))
	for token, holders := range s.balances {
		snap[token] = make(map[common.Address]*big.Int, len(holders))
		for holder, bal := range holders {
			snap[token][holder] = new(big.Int).Set(bal)
		}
	}
	return snap
}

func (s *SimClient) restore(snap map[common.Address]map[common.Address]*big.Int) {
	s.balances = snap
}
