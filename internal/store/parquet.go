package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"altair/internal/domain"
)

// Compile-time interface checks.
var _ AuditJournal = (*ParquetJournal)(nil)
var _ TickStore = (*ParquetJournal)(nil)

// ParquetJournal implements AuditJournal and TickStore using daily Parquet
// files on disk. Appends merge with the existing day file, so restarts never
// lose or duplicate journal entries.
type ParquetJournal struct {
	DataDir string

	// Serializes read-merge-write cycles on the journal files.
	mu sync.Mutex
}

// NewParquetJournal creates a ParquetJournal rooted at the given data
// directory.
func NewParquetJournal(dataDir string) *ParquetJournal {
	return &ParquetJournal{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// ExecutionRecord is the Parquet schema for journaled execution events: a
// trigger, a state change, or a terminal outcome of a conditional order.
// JSON tags let the records pass through the ops API unchanged.
type ExecutionRecord struct {
	OrderID   string  `parquet:"order_id" json:"order_id"`
	Symbol    string  `parquet:"symbol" json:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)" json:"timestamp"` // Unix ms
	State     string  `parquet:"state" json:"state"`
	Price     float64 `parquet:"price" json:"price"`
	Filled    int64   `parquet:"filled" json:"filled"`
	Attempts  int64   `parquet:"attempts" json:"attempts"`
	Reason    string  `parquet:"reason" json:"reason"`
}

// DecisionRecord is the Parquet schema for journaled routing and split
// decisions.
type DecisionRecord struct {
	Timestamp    int64   `parquet:"timestamp,timestamp(millisecond)" json:"timestamp"` // Unix ms
	Kind         string  `parquet:"kind" json:"kind"` // "route" or "split"
	Symbol       string  `parquet:"symbol" json:"symbol"`
	BrokerID     string  `parquet:"broker_id" json:"broker_id"`
	Quantity     int64   `parquet:"quantity" json:"quantity"`
	Score        float64 `parquet:"score" json:"score"`
	Alternatives int64   `parquet:"alternatives" json:"alternatives"`
	Reason       string  `parquet:"reason" json:"reason"`
}

// TickRecord is the Parquet schema for recorded price ticks.
type TickRecord struct {
	Symbol    string  `parquet:"symbol" json:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)" json:"timestamp"` // Unix ms
	Price     float64 `parquet:"price" json:"price"`
	Size      int64   `parquet:"size" json:"size"`
	Exchange  string  `parquet:"exchange" json:"exchange"`
	ID        string  `parquet:"id" json:"id"`
}

// ---------------------------------------------------------------------------
// AuditJournal implementation
// ---------------------------------------------------------------------------

// AppendExecutions appends execution events to their day's journal files.
func (j *ParquetJournal) AppendExecutions(_ context.Context, recs []ExecutionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	for date, group := range groupByDate(recs, func(r ExecutionRecord) int64 { return r.Timestamp }) {
		path := j.executionPath(date)
		existing, _ := readParquetFile[ExecutionRecord](path)
		merged := mergeRecords(existing, group,
			func(r ExecutionRecord) string {
				return fmt.Sprintf("%s|%d|%s", r.OrderID, r.Timestamp, r.State)
			},
			func(r ExecutionRecord) int64 { return r.Timestamp })
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing executions for %s: %w", date, err)
		}
	}
	return nil
}

// AppendDecisions appends routing decisions to their day's journal files.
func (j *ParquetJournal) AppendDecisions(_ context.Context, recs []DecisionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	for date, group := range groupByDate(recs, func(r DecisionRecord) int64 { return r.Timestamp }) {
		path := j.decisionPath(date)
		existing, _ := readParquetFile[DecisionRecord](path)
		merged := mergeRecords(existing, group,
			func(r DecisionRecord) string {
				return fmt.Sprintf("%d|%s|%s|%s", r.Timestamp, r.Kind, r.Symbol, r.BrokerID)
			},
			func(r DecisionRecord) int64 { return r.Timestamp })
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing decisions for %s: %w", date, err)
		}
	}
	return nil
}

// ReadExecutions returns all execution events journaled on a date.
func (j *ParquetJournal) ReadExecutions(_ context.Context, date string) ([]ExecutionRecord, error) {
	recs, err := readParquetFile[ExecutionRecord](j.executionPath(date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading executions for %s: %w", date, err)
	}
	return recs, nil
}

// ReadDecisions returns all decisions journaled on a date.
func (j *ParquetJournal) ReadDecisions(_ context.Context, date string) ([]DecisionRecord, error) {
	recs, err := readParquetFile[DecisionRecord](j.decisionPath(date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading decisions for %s: %w", date, err)
	}
	return recs, nil
}

// ---------------------------------------------------------------------------
// TickStore implementation
// ---------------------------------------------------------------------------

// WriteTicks writes ticks to Parquet files organized by symbol and date.
func (j *ParquetJournal) WriteTicks(_ context.Context, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	type key struct {
		symbol string
		date   string // YYYY-MM-DD
	}
	groups := make(map[key][]TickRecord)
	for _, t := range ticks {
		k := key{symbol: strings.ToUpper(t.Symbol), date: t.Timestamp.UTC().Format("2006-01-02")}
		groups[k] = append(groups[k], TickRecord{
			Symbol:    strings.ToUpper(t.Symbol),
			Timestamp: t.Timestamp.UnixMilli(),
			Price:     t.Price,
			Size:      t.Size,
			Exchange:  t.Exchange,
			ID:        t.ID,
		})
	}

	for k, records := range groups {
		path := j.tickPath(k.symbol, k.date)
		existing, _ := readParquetFile[TickRecord](path)
		merged := mergeRecords(existing, records,
			func(r TickRecord) string {
				return fmt.Sprintf("%s|%s|%s|%d", r.Symbol, r.ID, r.Exchange, r.Timestamp)
			},
			func(r TickRecord) int64 { return r.Timestamp })
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing ticks for %s/%s: %w", k.symbol, k.date, err)
		}
	}
	return nil
}

// ReadTicks returns all ticks for the given symbol and date, ordered by
// timestamp.
func (j *ParquetJournal) ReadTicks(_ context.Context, symbol, date string) ([]domain.Tick, error) {
	records, err := readParquetFile[TickRecord](j.tickPath(symbol, date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading ticks for %s/%s: %w", symbol, date, err)
	}

	ticks := make([]domain.Tick, 0, len(records))
	for _, r := range records {
		ticks = append(ticks, domain.Tick{
			Symbol:    r.Symbol,
			Price:     r.Price,
			Size:      r.Size,
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Exchange:  r.Exchange,
			ID:        r.ID,
		})
	}
	return ticks, nil
}

// ListTickDates returns the dates with recorded ticks for a symbol, sorted
// chronologically.
func (j *ParquetJournal) ListTickDates(_ context.Context, symbol string) ([]string, error) {
	dir := filepath.Join(j.DataDir, "ticks", strings.ToUpper(symbol))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dates []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		date := strings.TrimSuffix(e.Name(), ".parquet")
		if len(date) == 10 && date[4] == '-' && date[7] == '-' {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// executionPath returns the journal file for execution events on a date.
// Layout: <dataDir>/audit/executions/<YYYY-MM-DD>.parquet
func (j *ParquetJournal) executionPath(date string) string {
	return filepath.Join(j.DataDir, "audit", "executions", date+".parquet")
}

// decisionPath returns the journal file for routing decisions on a date.
// Layout: <dataDir>/audit/decisions/<YYYY-MM-DD>.parquet
func (j *ParquetJournal) decisionPath(date string) string {
	return filepath.Join(j.DataDir, "audit", "decisions", date+".parquet")
}

// tickPath returns the tick file for a symbol and date.
// Layout: <dataDir>/ticks/<SYMBOL>/<YYYY-MM-DD>.parquet
func (j *ParquetJournal) tickPath(symbol, date string) string {
	return filepath.Join(j.DataDir, "ticks", strings.ToUpper(symbol), date+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// groupByDate buckets records by the UTC date of their millisecond
// timestamp.
func groupByDate[T any](recs []T, ts func(T) int64) map[string][]T {
	groups := make(map[string][]T)
	for _, r := range recs {
		date := time.UnixMilli(ts(r)).UTC().Format("2006-01-02")
		groups[date] = append(groups[date], r)
	}
	return groups
}

// mergeRecords deduplicates records by key, preferring new records over
// existing ones. Results are sorted by timestamp.
func mergeRecords[T any](existing, incoming []T, key func(T) string, ts func(T) int64) []T {
	seen := make(map[string]T, len(existing)+len(incoming))
	order := make([]string, 0, len(existing)+len(incoming))
	for _, r := range existing {
		k := key(r)
		if _, ok := seen[k]; !ok {
			order = append(order, k)
		}
		seen[k] = r
	}
	for _, r := range incoming {
		k := key(r)
		if _, ok := seen[k]; !ok {
			order = append(order, k)
		}
		seen[k] = r
	}

	merged := make([]T, 0, len(seen))
	for _, k := range order {
		merged = append(merged, seen[k])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return ts(merged[i]) < ts(merged[j])
	})
	return merged
}
