package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"altair/internal/domain"
	"altair/internal/store"
	"altair/internal/util"
)

var _ PriceFeed = (*ReplayFeed)(nil)

// maxReplayGap bounds the simulated wait between consecutive ticks, so
// overnight and halt gaps replay as at most a minute of tape time.
const maxReplayGap = time.Minute

// ReplayFeed replays recorded ticks from a TickStore in timestamp order,
// merging all requested symbols into one tape per date.
type ReplayFeed struct {
	ticks   store.TickStore
	symbols []string
	dates   []string // YYYY-MM-DD; empty discovers every recorded date
	handler TickHandler
	log     *slog.Logger

	// Speed scales pacing: 1 replays at recorded pace, 2 at double speed.
	// Zero or negative replays as fast as the handler accepts.
	Speed float64

	// RegularHoursOnly drops ticks outside the 9:30-16:00 ET session.
	RegularHoursOnly bool
}

// NewReplayFeed creates a replay over the given symbols and dates.
func NewReplayFeed(ts store.TickStore, symbols, dates []string, handler TickHandler, log *slog.Logger) *ReplayFeed {
	if log == nil {
		log = slog.Default()
	}
	return &ReplayFeed{
		ticks:   ts,
		symbols: symbols,
		dates:   dates,
		handler: handler,
		log:     log.With("component", "feed", "feed", "replay"),
	}
}

// Name returns the feed identifier.
func (f *ReplayFeed) Name() string { return "replay" }

// Run replays the tape and returns nil when it ends. An interrupted replay
// returns the context error.
func (f *ReplayFeed) Run(ctx context.Context) error {
	var session *util.MarketSession
	if f.RegularHoursOnly {
		s, err := util.NewUSSession()
		if err != nil {
			return err
		}
		session = s
	}

	dates := f.dates
	if len(dates) == 0 {
		discovered, err := f.discoverDates(ctx)
		if err != nil {
			return err
		}
		dates = discovered
	}

	for _, date := range dates {
		tape, err := f.loadDate(ctx, date)
		if err != nil {
			return err
		}
		delivered, err := f.playDate(ctx, tape, session)
		if err != nil {
			return err
		}
		f.log.Info("date replayed", "date", date, "ticks", delivered, "skipped", len(tape)-delivered)
	}
	return nil
}

// discoverDates returns the union of recorded dates across the symbols,
// sorted chronologically.
func (f *ReplayFeed) discoverDates(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, sym := range f.symbols {
		dates, err := f.ticks.ListTickDates(ctx, sym)
		if err != nil {
			return nil, fmt.Errorf("listing tick dates for %s: %w", sym, err)
		}
		for _, d := range dates {
			seen[d] = true
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

// loadDate merges all symbols' ticks for one date into timestamp order.
func (f *ReplayFeed) loadDate(ctx context.Context, date string) ([]domain.Tick, error) {
	var tape []domain.Tick
	for _, sym := range f.symbols {
		ticks, err := f.ticks.ReadTicks(ctx, sym, date)
		if err != nil {
			return nil, fmt.Errorf("reading ticks for %s/%s: %w", sym, date, err)
		}
		tape = append(tape, ticks...)
	}
	sort.SliceStable(tape, func(i, j int) bool {
		return tape[i].Timestamp.Before(tape[j].Timestamp)
	})
	return tape, nil
}

// playDate delivers one date's tape, pacing by recorded inter-tick gaps.
// Returns how many ticks were handed to the handler.
func (f *ReplayFeed) playDate(ctx context.Context, tape []domain.Tick, session *util.MarketSession) (int, error) {
	delivered := 0
	var prev time.Time
	for _, tk := range tape {
		if session != nil && !session.IsOpen(tk.Timestamp) {
			continue
		}
		if f.Speed > 0 && !prev.IsZero() {
			gap := tk.Timestamp.Sub(prev)
			if gap > maxReplayGap {
				gap = maxReplayGap
			}
			if gap > 0 {
				wait := time.Duration(float64(gap) / f.Speed)
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return delivered, ctx.Err()
				case <-timer.C:
				}
			}
		} else if err := ctx.Err(); err != nil {
			return delivered, err
		}
		prev = tk.Timestamp
		f.handler(tk)
		delivered++
	}
	return delivered, nil
}
