package cmd

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/vportnov.me/arbot/audit"
	"github.com/vportnov.me/arbot/chain"
	"github.com/vportnov.me/arbot/config"
	"github.com/vportnov.me/arbot/engine"
	"github.com/vportnov.me/arbot/gas"
	"github.com/vportnov.me/arbot/noncealloc"
	"github.com/vportnov.me/arbot/quote"
	"github.com/vportnov.me/arbot/router"
	"github.com/vportnov.me/arbot/types"
	"github.com/vportnov.me/arbot/utils"
	"github.com/vportnov.me/arbot/utils/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dryRun        bool
	parallelMode  bool
	unchecked     bool
	sellRouter    string
	buyRouter     string
	amountFlag    string
	minProfitFlag string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one arbitrage attempt",
	Long: `Execute one two-legged arbitrage attempt: sell the base asset on one
router, buy it back on another. Atomic by default; --parallel submits the
legs as independent transactions at reserved nonces. When --sell-router or
--buy-router is omitted the widest quoted spread picks the direction.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := utils.GetLogger()
		ctx := cmd.Context()

		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			log.Fatal("Failed to load configuration", zap.Error(err))
		}
		book, err := config.LoadAddressBook(cfg.AddressBookPath)
		if err != nil {
			log.Fatal("Failed to load address book", zap.Error(err))
		}

		amount, ok := new(big.Int).SetString(amountFlag, 10)
		if !ok || amount.Sign() <= 0 {
			log.Fatal("Invalid --amount", zap.String("amount", amountFlag))
		}
		minProfit := cfg.MinProfit
		if minProfitFlag != "" {
			minProfit, ok = new(big.Int).SetString(minProfitFlag, 10)
			if !ok {
				log.Fatal("Invalid --min-profit", zap.String("min_profit", minProfitFlag))
			}
		}

		key := loadKey(log)
		sender := crypto.PubkeyToAddress(key.PublicKey)

		reg := prometheus.NewRegistry()
		m := metrics.NewEngineMetrics(reg, "arbot")
		if cfg.PrometheusEnabled {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			go func() {
				if err := http.ListenAndServe(cfg.PrometheusEndpoint, mux); err != nil {
					log.Error("Metrics server stopped", zap.Error(err))
				}
			}()
		}

		var (
			client chain.Client
			quoter quote.Quoter
			owner  = book.OwnerAddress()
		)
		if dryRun {
			// The simulated ledger is its own deployment: the ephemeral key
			// owns the executor and each router gets its own book, with a
			// spread for the direction pick to find.
			owner = sender
			sim, err := chain.NewSimClient(chain.SimConfig{
				ChainID:  new(big.Int).SetUint64(cfg.ChainID),
				Routers:  book.RouterAddresses(),
				Executor: book.ExecutorAddress(),
				Owner:    owner,
				TokenX:   book.TokenX(),
				TokenQ:   book.TokenQ(),
			})
			if err != nil {
				log.Fatal("Failed to build simulated ledger", zap.Error(err))
			}
			seedDryRunLedger(sim, book, amount, sender)
			client = sim
			quoter = &quote.SimQuoter{Client: sim}
		} else {
			ec, err := ethclient.DialContext(ctx, cfg.RPCEndpoint)
			if err != nil {
				log.Fatal("Failed to connect to Ethereum node", zap.Error(err))
			}
			defer ec.Close()

			eth, err := chain.NewEthClient(ctx, ec, chain.EthClientConfig{
				RequestsPerSecond: cfg.RPCRateLimit.RequestsPerSecond,
				Burst:             cfg.RPCRateLimit.BurstSize,
			}, log)
			if err != nil {
				log.Fatal("Failed to build chain client", zap.Error(err))
			}
			client = eth

			pairs, err := book.PairConfigs()
			if err != nil {
				log.Fatal("Failed to load pair configs", zap.Error(err))
			}
			quoter, err = quote.NewReserveQuoter(ec, pairs)
			if err != nil {
				log.Fatal("Failed to build reserve quoter", zap.Error(err))
			}
		}

		auditPath := cfg.AuditDBPath
		if dryRun {
			auditPath = ":memory:"
		}
		recorder, err := audit.NewRecorder(auditPath, log)
		if err != nil {
			log.Fatal("Failed to open audit store", zap.Error(err))
		}
		defer recorder.Close()

		req, err := buildRequest(ctx, quoter, book, amount, minProfit, log)
		if err != nil {
			log.Fatal("Failed to build request", zap.Error(err))
		}
		req.Deadline = big.NewInt(time.Now().Add(cfg.SwapDeadline).Unix())

		sub := engine.NewSubmitter(client, key, new(big.Int).SetUint64(cfg.ChainID), engine.SubmitterConfig{
			ReceiptPollInterval: cfg.ReceiptPollInterval,
			InclusionTimeout:    cfg.InclusionTimeout,
		}, m, log)

		codec, err := router.NewCodec(book.RouterAddresses())
		if err != nil {
			log.Fatal("Failed to build router codec", zap.Error(err))
		}
		limits := gas.DefaultLimits()

		var attempt *types.ArbAttempt
		if parallelMode {
			path := engine.NewParallelPath(codec, client, quoter, noncealloc.New(client, sender), sub, limits, recorder, m, log, engine.ParallelConfig{
				Wallet:      sender,
				TokenX:      book.TokenX(),
				TokenQ:      book.TokenQ(),
				MaxGasPrice: cfg.MaxGasPrice,
			})
			attempt, err = path.Execute(ctx, req)
		} else {
			exec, cerr := router.NewExecutorCodec(book.ExecutorAddress())
			if cerr != nil {
				log.Fatal("Failed to build executor codec", zap.Error(cerr))
			}
			path := engine.NewAtomicPath(codec, exec, client, sub, limits, recorder, m, log, engine.AtomicConfig{
				Owner:       owner,
				TokenX:      book.TokenX(),
				TokenQ:      book.TokenQ(),
				MaxGasPrice: cfg.MaxGasPrice,
			})
			attempt, err = path.Execute(ctx, req)
		}

		reportAttempt(log, attempt, err)
	},
}

// dryRunRates prices each router differently: selling the base asset pays
// best on uniswapv3 and buying it back is cheapest on joelb, so a dry run
// with the router flags omitted has a spread to pick a direction from.
var dryRunRates = map[types.RouterIdentity]struct {
	sellNum, sellDen int64 // base asset to quote asset
	buyNum, buyDen   int64 // quote asset to base asset
}{
	types.RouterUniswapV3: {100, 10, 100, 1000},
	types.RouterSushiV3:   {99, 10, 101, 1000},
	types.RouterPancakeV3: {98, 10, 102, 1000},
	types.RouterJoeLB:     {97, 10, 103, 1000},
}

func seedDryRunLedger(sim *chain.SimClient, book *config.AddressBook, amount *big.Int, sender common.Address) {
	sim.SetBalance(book.TokenX(), book.ExecutorAddress(), amount)
	sim.SetBalance(book.TokenX(), sender, amount)
	for r, rates := range dryRunRates {
		sim.SetRate(r, book.TokenX(), book.TokenQ(), rates.sellNum, rates.sellDen)
		sim.SetRate(r, book.TokenQ(), book.TokenX(), rates.buyNum, rates.buyDen)
	}
}

func loadKey(log *zap.Logger) *ecdsa.PrivateKey {
	if err := config.LoadEnv(); err != nil {
		log.Debug("No .env file loaded", zap.Error(err))
	}
	if dryRun {
		key, err := crypto.GenerateKey()
		if err != nil {
			log.Fatal("Failed to generate ephemeral key", zap.Error(err))
		}
		return key
	}

	secure, err := config.LoadSecureConfig()
	if err != nil {
		log.Fatal("Failed to load signing key", zap.Error(err))
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(secure.PrivateKey, "0x"))
	if err != nil {
		log.Fatal("Invalid signing key", zap.Error(err))
	}
	return key
}

func buildRequest(ctx context.Context, quoter quote.Quoter, book *config.AddressBook, amount, minProfit *big.Int, log *zap.Logger) (engine.Request, error) {
	var sellR, buyR types.RouterIdentity
	var err error
	if sellRouter != "" && buyRouter != "" {
		sellR, err = types.ParseRouter(sellRouter)
		if err != nil {
			return engine.Request{}, err
		}
		buyR, err = types.ParseRouter(buyRouter)
		if err != nil {
			return engine.Request{}, err
		}
	} else {
		dir, derr := engine.PickDirection(ctx, quoter, types.AllRouters(), book.TokenX(), book.TokenQ(), amount)
		if derr != nil {
			return engine.Request{}, derr
		}
		sellR, buyR = dir.Sell, dir.Buy
		log.Info("Direction picked from quotes",
			zap.String("sell", sellR.String()),
			zap.String("buy", buyR.String()),
			zap.String("spread", dir.Spread.String()))
	}

	sellFee, err := book.FeeOrBinStep(sellR)
	if err != nil {
		return engine.Request{}, err
	}
	buyFee, err := book.FeeOrBinStep(buyR)
	if err != nil {
		return engine.Request{}, err
	}

	return engine.Request{
		SellRouter:       sellR,
		BuyRouter:        buyR,
		AmountIn:         amount,
		SellFeeOrBinStep: sellFee,
		BuyFeeOrBinStep:  buyFee,
		MinProfit:        minProfit,
		Checked:          !unchecked,
	}, nil
}

func reportAttempt(log *zap.Logger, attempt *types.ArbAttempt, err error) {
	var partial *engine.PartialFillError
	switch {
	case err == nil:
		log.Info("Attempt committed",
			zap.String("attempt", attempt.ID),
			zap.String("profit", attempt.Profit.String()))
	case errors.As(err, &partial):
		log.Error("Attempt partially filled, wallet holds a one-sided position",
			zap.String("attempt", attempt.ID),
			zap.Bool("sell_success", partial.SellOutcome.Success),
			zap.Bool("buy_success", partial.BuyOutcome.Success),
			zap.String("profit", attempt.Profit.String()))
	case attempt != nil:
		log.Error("Attempt did not commit",
			zap.String("attempt", attempt.ID),
			zap.String("status", attempt.Status.String()),
			zap.Error(err))
	default:
		log.Error("Attempt failed before submission", zap.Error(err))
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "run against an in-process simulated ledger")
	runCmd.Flags().BoolVar(&parallelMode, "parallel", false, "submit the legs as independent transactions")
	runCmd.Flags().BoolVar(&unchecked, "unchecked", false, "skip the on-chain profit floor (atomic path)")
	runCmd.Flags().StringVar(&sellRouter, "sell-router", "", "router to sell on (uniswapv3|sushiv3|pancakev3|joelb)")
	runCmd.Flags().StringVar(&buyRouter, "buy-router", "", "router to buy back on")
	runCmd.Flags().StringVar(&amountFlag, "amount", "", "base asset amount to sell, in wei")
	runCmd.Flags().StringVar(&minProfitFlag, "min-profit", "", "profit floor in wei (default from config)")
	runCmd.MarkFlagRequired("amount")
}
