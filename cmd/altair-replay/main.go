// altair-replay drives the conditional-order engine from recorded tick
// tapes, filling triggered orders on the simulated venue and journaling the
// resulting executions. Orders come from a JSON file; the tape comes from
// the parquet tick store under the configured data directory.
//
// Usage:
//
//	go run cmd/altair-replay/main.go -orders orders.json [-dates 2026-03-02,2026-03-03]
//	    [-symbols AAPL,MSFT] [-speed 1] [-rth] [-minute 500ms]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"altair/internal/audit"
	"altair/internal/config"
	"altair/internal/domain"
	"altair/internal/engine"
	"altair/internal/feed"
	"altair/internal/gateway"
	"altair/internal/store"
	"altair/internal/util"
)

func main() {
	ordersPath := flag.String("orders", "", "JSON file with conditional orders to register before replay")
	dates := flag.String("dates", "", "comma-separated YYYY-MM-DD dates (empty = every recorded date)")
	symbols := flag.String("symbols", "", "comma-separated symbols (empty = engine watch symbols)")
	speed := flag.Float64("speed", 0, "pacing: 1 = recorded pace, 2 = double speed, 0 = as fast as possible")
	rth := flag.Bool("rth", false, "replay regular trading hours only")
	minute := flag.Duration("minute", 0, "wall-clock length of one strategy minute (0 = real time)")
	flag.Parse()

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

	journal := store.NewParquetJournal(cfg.Storage.DataDir)

	sim := gateway.NewSimGateway(logger)
	sim.AutoFill(0)

	eng := engine.New(engine.Config{
		Workers:           cfg.Engine.Workers,
		MaxSubmitAttempts: cfg.Engine.MaxSubmitAttempts,
		SubmitTimeout:     time.Duration(cfg.Engine.SubmitTimeoutMs) * time.Millisecond,
		RetryBackoff:      time.Duration(cfg.Engine.RetryBackoffMs) * time.Millisecond,
		SweepInterval:     time.Duration(cfg.Engine.ExpirySweepSec) * time.Second,
		Minute:            *minute,
		MaxOrderQuantity:  cfg.Engine.MaxOrderQuantity,
		MaxOrderNotional:  cfg.Engine.MaxOrderNotional,
	}, sim, nil, logger)
	sim.SetListener(eng)

	if *ordersPath != "" {
		orders, err := loadOrders(*ordersPath)
		if err != nil {
			log.Fatalf("loading orders: %v", err)
		}
		for _, o := range orders {
			id, err := eng.RegisterStrategy(o)
			if err != nil {
				log.Fatalf("registering order %q: %v", o.ID, err)
			}
			logger.Info("order registered", "order_id", id, "symbol", o.Symbol, "strategy", o.Strategy)
		}
	} else {
		logger.Warn("no orders file given, replaying tape without strategies")
	}

	recorder := audit.NewRecorder(journal, logger)
	recorderDone := make(chan struct{})
	go func() {
		recorder.Run(context.Background(), eng)
		close(recorderDone)
	}()

	replaySymbols := splitList(*symbols)
	if len(replaySymbols) == 0 {
		replaySymbols = cfg.Engine.WatchSymbols
	}
	for i, s := range replaySymbols {
		replaySymbols[i] = strings.ToUpper(s)
	}
	if len(replaySymbols) == 0 {
		log.Fatal("no symbols: pass -symbols or set engine.watch_symbols")
	}

	var delivered int64
	tape := feed.NewReplayFeed(journal, replaySymbols, splitList(*dates), func(tick domain.Tick) {
		delivered++
		eng.OnPriceUpdate(tick.Symbol, tick.Price, tick.Timestamp)
	}, logger)
	tape.Speed = *speed
	tape.RegularHoursOnly = *rth

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	if err := tape.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("replay interrupted")
		} else {
			log.Fatalf("replay error: %v", err)
		}
	}

	// Simulated fills land asynchronously; give in-flight submissions a
	// moment before the final accounting.
	time.Sleep(500 * time.Millisecond)

	stats := eng.Stats()
	if err := eng.Close(); err != nil {
		logger.Error("engine close error", "error", err)
	}
	<-recorderDone

	logger.Info("replay complete",
		"ticks", delivered,
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
		"evaluations", stats.Evaluations,
		"submissions", stats.Submissions,
		"submit_failures", stats.SubmitFailures,
		"still_active", stats.ActiveOrders,
	)
	for strat, n := range stats.ByStrategy {
		logger.Info("still monitoring", "strategy", strat, "count", n)
	}
}

// loadOrders reads a JSON array of conditional orders. Lifecycle fields are
// ignored; registration resets them.
func loadOrders(path string) ([]*domain.ConditionalOrder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var orders []*domain.ConditionalOrder
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return orders, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
