package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/synthdex/synthclob/params"
	"github.com/synthdex/synthclob/pkg/api"
	"github.com/synthdex/synthclob/pkg/exchange"
	"github.com/synthdex/synthclob/pkg/exchange/events"
	"github.com/synthdex/synthclob/pkg/exchange/margin"
	"github.com/synthdex/synthclob/pkg/storage"
	"github.com/synthdex/synthclob/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = filepath.Join(cfg.Storage.DataDir, "exchanged.log")
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	// ---- Persistence ----
	balanceStore, err := margin.NewStore(filepath.Join(cfg.Storage.DataDir, "balances"))
	if err != nil {
		sugar.Fatalw("balance_store_failed", "err", err)
	}
	defer balanceStore.Close()

	var emitters []events.Emitter
	emitters = append(emitters, events.Logger{Log: logger})

	var tradeLog *storage.TradeLog
	if cfg.Storage.Journal {
		journal, jerr := storage.OpenJournal(filepath.Join(cfg.Storage.DataDir, "journal"), logger)
		if jerr != nil {
			sugar.Fatalw("journal_failed", "err", jerr)
		}
		defer journal.Close()
		tradeLog = storage.TradeLogFor(journal)
		emitters = append(emitters, journal, tradeLog)
		sugar.Infow("journal_enabled", "last_seq", journal.LastSeq())
	}

	// ---- Exchange core ----
	ledger := margin.NewLedger(balanceStore)
	lending := margin.NewFacility(ledger, balanceStore, cfg.Lending.CollateralFactorBps)

	// WebSocket hub joins the fan-out before the exchange is built so every
	// event from the first order onward reaches subscribers.
	hub := api.NewHub()
	emitters = append(emitters, hub)

	emitter := events.Multi(emitters)
	x := exchange.New(ledger, lending, emitter, util.RealClock{}, logger)
	x.SetMinHealth(cfg.Lending.MinHealthBps)

	if err := listMarkets(x); err != nil {
		sugar.Fatalw("market_listing_failed", "err", err)
	}
	sugar.Infow("markets_listed", "symbols", x.Registry().Symbols())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Gateway: single writer for all order flow ----
	gw := exchange.NewGateway(x, cfg.Server.GatewayQueue, logger)
	gw.Start(ctx)
	defer gw.Close()

	// ---- API Server ----
	apiServer := api.NewServer(x, gw, tradeLog, hub, util.RealClock{})
	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Server.ListenAddr)
		if err := apiServer.Start(cfg.Server.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")
}

// listMarkets registers the launch markets. Listing is static for now; a
// market admin endpoint can replace this once listing governance is settled.
func listMarkets(x *exchange.Exchange) error {
	weth, err := exchange.NewMarketWithDefaults("WETH-USDC", "WETH", "USDC")
	if err != nil {
		return err
	}
	if err := x.ListMarket(weth); err != nil {
		return err
	}
	wbtc, err := exchange.NewMarketWithDefaults("WBTC-USDC", "WBTC", "USDC")
	if err != nil {
		return err
	}
	if err := x.ListMarket(wbtc); err != nil {
		return err
	}

	// Devnet price seed so health checks have something to work with.
	if f, ok := x.Lending().(*margin.Facility); ok {
		f.SetPrice("USDC", 1)
		f.SetPrice("WETH", 3000)
		f.SetPrice("WBTC", 90000)
	}
	return nil
}
