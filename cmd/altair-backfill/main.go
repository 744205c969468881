// altair-backfill pulls historical trades from the Alpaca market-data API
// into the parquet tick store, giving altair-replay tapes for sessions the
// live stream never recorded.
//
// Usage:
//
//	go run cmd/altair-backfill/main.go -start 2026-03-02 [-end 2026-03-06]
//	    [-symbols AAPL,MSFT] [-feed iex]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"altair/internal/config"
	"altair/internal/feed"
	"altair/internal/store"
	"altair/internal/util"
)

func main() {
	start := flag.String("start", "", "first date to backfill (YYYY-MM-DD, required)")
	end := flag.String("end", "", "last date to backfill (default: same as -start)")
	symbols := flag.String("symbols", "", "comma-separated symbols (empty = engine watch symbols)")
	feedName := flag.String("feed", "", "market data feed (empty = configured feed)")
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

	if cfg.Alpaca.APIKey == "" {
		log.Fatal("backfill requires alpaca credentials (APCA_API_KEY_ID / APCA_API_SECRET_KEY)")
	}
	if *start == "" {
		log.Fatal("-start is required")
	}
	startDay, err := time.Parse("2006-01-02", *start)
	if err != nil {
		log.Fatalf("parsing -start: %v", err)
	}
	endDay := startDay
	if *end != "" {
		endDay, err = time.Parse("2006-01-02", *end)
		if err != nil {
			log.Fatalf("parsing -end: %v", err)
		}
	}
	if endDay.Before(startDay) {
		log.Fatal("-end is before -start")
	}

	fillSymbols := cfg.Engine.WatchSymbols
	if *symbols != "" {
		fillSymbols = nil
		for _, s := range strings.Split(*symbols, ",") {
			if s = strings.TrimSpace(s); s != "" {
				fillSymbols = append(fillSymbols, strings.ToUpper(s))
			}
		}
	}
	if len(fillSymbols) == 0 {
		log.Fatal("no symbols: pass -symbols or set engine.watch_symbols")
	}

	dataFeed := cfg.Alpaca.Feed
	if *feedName != "" {
		dataFeed = *feedName
	}

	journal := store.NewParquetJournal(cfg.Storage.DataDir)
	backfiller := feed.NewBackfiller(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL, dataFeed, fillSymbols, startDay, endDay,
		cfg.Trading.RateLimitPerMin, journal, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := backfiller.Run(ctx); err != nil {
		log.Fatalf("backfill error: %v", err)
	}
}
