// altair-server runs the conditional-order engine and the broker routing
// engine behind the REST API, fed by the Alpaca market-data stream.
//
// Configuration comes from config/altair.yaml (override with ALTAIR_CONFIG).
// Without Alpaca credentials the server falls back to the simulated gateway
// and runs without a live price feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"altair/internal/audit"
	"altair/internal/config"
	"altair/internal/domain"
	"altair/internal/engine"
	"altair/internal/feed"
	"altair/internal/gateway"
	"altair/internal/httpapi"
	"altair/internal/routing"
	"altair/internal/store"
	"altair/internal/util"
)

const paperBaseURL = "https://paper-api.alpaca.markets"

func main() {
	cfgPath := "config/altair.yaml"
	if p := os.Getenv("ALTAIR_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	dbPath := cfg.Storage.SQLitePath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.Storage.DataDir, "altair.db")
	}
	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("opening order store: %v", err)
	}
	defer db.Close()

	journal := store.NewParquetJournal(cfg.Storage.DataDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Execution gateway. With credentials orders go to Alpaca (paper or live
	// per the base URL); without, the simulated venue acks and fills locally.
	var alpacaGw *gateway.AlpacaGateway
	var gw gateway.ExecutionGateway
	if cfg.Alpaca.APIKey != "" {
		baseURL := cfg.Alpaca.BaseURL
		if baseURL == "" && cfg.Trading.PaperMode {
			baseURL = paperBaseURL
		}
		alpacaGw = gateway.NewAlpacaGateway(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
			baseURL, cfg.Trading.RateLimitPerMin, logger)
		gw = alpacaGw
		logger.Info("using alpaca gateway", "paper", cfg.Trading.PaperMode)
	} else {
		if !cfg.Trading.PaperMode {
			log.Fatal("live trading requires alpaca credentials")
		}
		sim := gateway.NewSimGateway(logger)
		sim.AutoFill(0)
		gw = sim
		logger.Warn("no alpaca credentials, using simulated gateway")
	}

	eng := engine.New(engine.Config{
		Workers:           cfg.Engine.Workers,
		MaxSubmitAttempts: cfg.Engine.MaxSubmitAttempts,
		SubmitTimeout:     time.Duration(cfg.Engine.SubmitTimeoutMs) * time.Millisecond,
		RetryBackoff:      time.Duration(cfg.Engine.RetryBackoffMs) * time.Millisecond,
		SweepInterval:     time.Duration(cfg.Engine.ExpirySweepSec) * time.Second,
		MaxOrderQuantity:  cfg.Engine.MaxOrderQuantity,
		MaxOrderNotional:  cfg.Engine.MaxOrderNotional,
	}, gw, db, logger)
	gw.SetListener(eng)

	restored, err := eng.Restore(ctx)
	if err != nil {
		log.Fatalf("restoring orders: %v", err)
	}
	if restored > 0 {
		logger.Info("restored active orders", "count", restored)
	}

	// Broker performance store, seeded from config and refreshed by the
	// monitor. A live deployment swaps the static source for a stats feed.
	perf := routing.NewPerformanceStore()
	seeds := brokerSeeds(cfg.Routing.Brokers)
	perf.UpsertBatch(seeds)
	monitor := routing.NewMonitor(perf, routing.NewStaticSource(seeds),
		time.Duration(cfg.Routing.MonitorRefreshSec)*time.Second, logger)
	go func() {
		if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("broker monitor stopped", "error", err)
		}
	}()

	selector := routing.NewSelector(perf, cfg.Routing.MaxAlternatives, logger)
	splitter := routing.NewSplitter(cfg.Routing.LotSize, cfg.Routing.PriorityTiers, logger)

	// The recorder runs on its own context so it survives until the engine
	// closes its report stream and the final batch is flushed.
	recorder := audit.NewRecorder(journal, logger)
	recorderDone := make(chan struct{})
	go func() {
		recorder.Run(context.Background(), eng)
		close(recorderDone)
	}()

	if alpacaGw != nil {
		go func() {
			if err := alpacaGw.Run(ctx); err != nil {
				logger.Error("trade update stream stopped", "error", err)
			}
		}()
	}

	if cfg.Alpaca.APIKey != "" && len(cfg.Engine.WatchSymbols) > 0 {
		priceFeed := feed.NewAlpacaFeed(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
			cfg.Alpaca.Feed, cfg.Engine.WatchSymbols, func(tick domain.Tick) {
				eng.OnPriceUpdate(tick.Symbol, tick.Price, tick.Timestamp)
			}, logger)
		priceFeed.Record(journal)
		go func() {
			if err := priceFeed.Run(ctx); err != nil {
				logger.Error("price feed stopped", "error", err)
			}
		}()
	} else {
		logger.Warn("price feed disabled", "have_credentials", cfg.Alpaca.APIKey != "",
			"watch_symbols", len(cfg.Engine.WatchSymbols))
	}

	srv := httpapi.NewServer(eng, selector, splitter, perf, journal, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if cfg.Server.Port == 0 {
		addr = fmt.Sprintf("%s:8080", cfg.Server.Host)
	}
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info("altair server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Closing the engine ends the report stream; wait for the recorder to
	// flush the tail before the process exits.
	if err := eng.Close(); err != nil {
		logger.Error("engine close error", "error", err)
	}
	<-recorderDone
}

// brokerSeeds converts configured broker entries into performance snapshots.
// Seeds start unloaded: available capacity equals the concurrency limit.
func brokerSeeds(brokers []config.BrokerSeed) []domain.BrokerPerformanceSnapshot {
	now := time.Now().UTC()
	snaps := make([]domain.BrokerPerformanceSnapshot, 0, len(brokers))
	for _, b := range brokers {
		snaps = append(snaps, domain.BrokerPerformanceSnapshot{
			BrokerID:            b.BrokerID,
			WindowStart:         now,
			AvgPriceImprovement: b.AvgPriceImprovement,
			AvgExecutionTimeMs:  b.AvgExecutionTimeMs,
			FillRate:            b.FillRate,
			SlippageRate:        b.SlippageRate,
			SuccessRate:         b.SuccessRate,
			UptimePercent:       b.UptimePercent,
			AvailableCapacity:   b.MaxConcurrentOrders,
			MaxConcurrentOrders: b.MaxConcurrentOrders,
			AvgFee:              b.AvgFee,
			AvgImpactCost:       b.AvgImpactCost,
		})
	}
	return snaps
}
