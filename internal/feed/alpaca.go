package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"

	"altair/internal/domain"
	"altair/internal/store"
)

var _ PriceFeed = (*AlpacaFeed)(nil)

// flushInterval is how often buffered ticks are written to the recorder.
const flushInterval = 5 * time.Second

// AlpacaFeed streams real-time trades for a set of symbols over the Alpaca
// market-data WebSocket and hands each one to the tick handler. With a
// recorder attached it also journals the tape for later replay.
type AlpacaFeed struct {
	key     string
	secret  string
	feed    string // "iex" or "sip"
	symbols []string
	handler TickHandler
	log     *slog.Logger

	mu       sync.Mutex
	recorder store.TickStore
	buffer   []domain.Tick
}

// NewAlpacaFeed creates a feed for the given credentials, data feed name,
// and symbols.
func NewAlpacaFeed(key, secret, feedName string, symbols []string, handler TickHandler, log *slog.Logger) *AlpacaFeed {
	if log == nil {
		log = slog.Default()
	}
	return &AlpacaFeed{
		key:     key,
		secret:  secret,
		feed:    feedName,
		symbols: symbols,
		handler: handler,
		log:     log.With("component", "feed", "feed", "alpaca"),
	}
}

// Record journals every received tick to the given store, batched on a
// timer. Call before Run.
func (f *AlpacaFeed) Record(ts store.TickStore) {
	f.mu.Lock()
	f.recorder = ts
	f.mu.Unlock()
}

// Name returns the feed identifier.
func (f *AlpacaFeed) Name() string { return "alpaca" }

// Run connects to the stream and blocks until the context is cancelled or
// the connection is lost for good. Cancellation is a clean stop and returns
// nil; buffered ticks are flushed either way.
func (f *AlpacaFeed) Run(ctx context.Context) error {
	client := stream.NewStocksClient(marketdata.Feed(f.feed),
		stream.WithCredentials(f.key, f.secret),
		stream.WithTrades(f.onTrade, f.symbols...),
	)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to alpaca stream: %w", err)
	}
	f.log.Info("stream connected", "symbols", len(f.symbols))

	flush := time.NewTicker(flushInterval)
	defer flush.Stop()
	for {
		select {
		case <-ctx.Done():
			f.flush(context.Background())
			return nil
		case err := <-client.Terminated():
			f.flush(context.Background())
			if err != nil {
				return fmt.Errorf("alpaca stream terminated: %w", err)
			}
			return nil
		case <-flush.C:
			f.flush(ctx)
		}
	}
}

// onTrade converts a stream trade and fans it out.
func (f *AlpacaFeed) onTrade(t stream.Trade) {
	tick := domain.Tick{
		Symbol:    t.Symbol,
		Price:     t.Price,
		Size:      int64(t.Size),
		Timestamp: t.Timestamp,
		Exchange:  t.Exchange,
		ID:        strconv.FormatInt(t.ID, 10),
	}
	f.handler(tick)

	f.mu.Lock()
	if f.recorder != nil {
		f.buffer = append(f.buffer, tick)
	}
	f.mu.Unlock()
}

// flush writes and clears the recorder buffer.
func (f *AlpacaFeed) flush(ctx context.Context) {
	f.mu.Lock()
	recorder := f.recorder
	batch := f.buffer
	f.buffer = nil
	f.mu.Unlock()
	if recorder == nil || len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := recorder.WriteTicks(ctx, batch); err != nil {
		// Put the batch back for the next flush; the journal merge
		// deduplicates if part of it did land.
		f.mu.Lock()
		f.buffer = append(batch, f.buffer...)
		f.mu.Unlock()
		f.log.Error("journaling ticks", "count", len(batch), "error", err)
		return
	}
	f.log.Debug("journaled ticks", "count", len(batch))
}
