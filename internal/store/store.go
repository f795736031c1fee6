// Package store is the append-only audit log: events, trades, symbol
// snapshots, and spread history. Every write is a single JSON line appended
// to its log file; Open replays each file once to rebuild the in-memory
// index it needs for dedup and recency queries. A CSV mirror of the same
// three human-facing logs (events/trades/snapshots) is maintained alongside
// for ad-hoc inspection outside the program.
package store

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"arb-engine/pkg/types"
)

const (
	eventsFile  = "events.jsonl"
	tradesFile  = "trades.jsonl"
	snapsFile   = "snapshots.jsonl"
	historyFile = "market_spread_history.jsonl"

	eventsCSV = "events.csv"
	tradesCSV = "trades.csv"
	snapsCSV  = "symbol_snapshots.csv"
)

type historyKey struct {
	symbol string
	ts     string
	source string
}

// Store persists the four audit logs to JSONL files in a designated
// directory, plus a CSV mirror of events/trades/snapshots. All operations
// are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex

	// seen dedups spread-history rows by (symbol,ts,source); rowCount
	// counts the rows on disk per symbol. It is kept up to date on open,
	// append and trim, but neither TrimSpreadHistory nor the scanner's
	// trim cadence reads it.
	seen     map[historyKey]struct{}
	rowCount map[string]int
}

// Open creates the directory (if needed), replays any existing logs to
// rebuild the in-memory dedup index, and ensures the CSV headers exist.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &Store{
		dir:      dir,
		seen:     make(map[historyKey]struct{}),
		rowCount: make(map[string]int),
	}
	if err := s.rebuildHistoryIndex(); err != nil {
		return nil, err
	}
	for _, name := range []string{eventsCSV, tradesCSV, snapsCSV} {
		if err := s.ensureCSVHeader(name, csvHeader(name)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close is a no-op; every write opens, writes and closes its own file.
func (s *Store) Close() error { return nil }

func csvHeader(name string) []string {
	switch name {
	case eventsCSV:
		return []string{"ts", "level", "source", "message", "data_json"}
	case tradesCSV:
		return []string{"ts_ms", "venue", "symbol", "side", "quantity", "price", "order_id", "tag"}
	case snapsCSV:
		return []string{"ts", "symbol", "data_json"}
	default:
		return nil
	}
}

func (s *Store) rebuildHistoryIndex() error {
	path := filepath.Join(s.dir, historyFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", historyFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var row types.SpreadHistoryRow
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			continue
		}
		key := historyKey{symbol: row.Symbol, ts: row.Ts, source: row.Source}
		s.seen[key] = struct{}{}
		s.rowCount[row.Symbol]++
	}
	return scanner.Err()
}

// appendJSONLine marshals v and appends it (plus newline) to path, opening
// in append mode and flushing the writer before returning. Unlike the
// teacher's temp-file-then-rename swap, an append-only log has nothing to
// replace atomically — a torn trailing line on crash is detected and
// skipped by the bufio.Scanner readers above, same as original_source's
// SQLite WAL tolerates a half-written page.
func appendJSONLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readJSONLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var v T
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, scanner.Err()
}

func (s *Store) ensureCSVHeader(name string, header []string) error {
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	return w.Write(header)
}

func appendCSVRow(path string, row []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	return w.Write(row)
}

// AppendEvent logs an audit event to both the JSONL log and the CSV mirror.
func (s *Store) AppendEvent(ev types.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := appendJSONLine(filepath.Join(s.dir, eventsFile), ev); err != nil {
		return &types.PersistenceFailure{Op: "append_event", Err: err}
	}
	dataJSON, _ := json.Marshal(ev.Data)
	row := []string{ev.Ts, string(ev.Level), ev.Source, ev.Message, string(dataJSON)}
	if err := appendCSVRow(filepath.Join(s.dir, eventsCSV), row); err != nil {
		return &types.PersistenceFailure{Op: "append_event_csv", Err: err}
	}
	return nil
}

// RecentEvents returns up to n most recent events, oldest first.
func (s *Store) RecentEvents(n int) ([]types.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := readJSONLines[types.EventRecord](filepath.Join(s.dir, eventsFile))
	if err != nil {
		return nil, &types.PersistenceFailure{Op: "read_events", Err: err}
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// AppendTrade logs a fill to both the JSONL log and the CSV mirror.
func (s *Store) AppendTrade(fill types.TradeFill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := appendJSONLine(filepath.Join(s.dir, tradesFile), fill); err != nil {
		return &types.PersistenceFailure{Op: "append_trade", Err: err}
	}
	row := []string{
		fmt.Sprintf("%d", fill.TimestampMs), string(fill.Venue), fill.Symbol, string(fill.Side),
		fill.Quantity.String(), fill.Price.String(), fill.OrderID, fill.Tag,
	}
	if err := appendCSVRow(filepath.Join(s.dir, tradesCSV), row); err != nil {
		return &types.PersistenceFailure{Op: "append_trade_csv", Err: err}
	}
	return nil
}

// RecentTrades returns up to n most recent fills, oldest first.
func (s *Store) RecentTrades(n int) ([]types.TradeFill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := readJSONLines[types.TradeFill](filepath.Join(s.dir, tradesFile))
	if err != nil {
		return nil, &types.PersistenceFailure{Op: "read_trades", Err: err}
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// AppendSnapshot logs a dashboard rollup to both the JSONL log and the CSV
// mirror. Snapshots are append-only history, not an upsert — LatestSnapshots
// reconstructs "current" by taking the last row per symbol.
func (s *Store) AppendSnapshot(snap types.SymbolSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := appendJSONLine(filepath.Join(s.dir, snapsFile), snap); err != nil {
		return &types.PersistenceFailure{Op: "append_snapshot", Err: err}
	}
	dataJSON, _ := json.Marshal(snap.ToDict())
	row := []string{snap.UpdatedAt, snap.Symbol, string(dataJSON)}
	if err := appendCSVRow(filepath.Join(s.dir, snapsCSV), row); err != nil {
		return &types.PersistenceFailure{Op: "append_snapshot_csv", Err: err}
	}
	return nil
}

// LatestSnapshots returns the most recent snapshot row per symbol.
func (s *Store) LatestSnapshots() ([]types.SymbolSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := readJSONLines[types.SymbolSnapshot](filepath.Join(s.dir, snapsFile))
	if err != nil {
		return nil, &types.PersistenceFailure{Op: "read_snapshots", Err: err}
	}
	latest := make(map[string]types.SymbolSnapshot)
	order := make([]string, 0)
	for _, snap := range all {
		if _, ok := latest[snap.Symbol]; !ok {
			order = append(order, snap.Symbol)
		}
		latest[snap.Symbol] = snap
	}
	out := make([]types.SymbolSnapshot, 0, len(order))
	for _, sym := range order {
		out = append(out, latest[sym])
	}
	return out, nil
}

// AppendSpreadHistory appends a spread-history row unless a row with the
// same (symbol,ts,source) was already recorded, matching
// market_spread_history's unique index. Implements market.HistoryStore.
func (s *Store) AppendSpreadHistory(row types.SpreadHistoryRow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := historyKey{symbol: row.Symbol, ts: row.Ts, source: row.Source}
	if _, dup := s.seen[key]; dup {
		return false, nil
	}
	if err := appendJSONLine(filepath.Join(s.dir, historyFile), row); err != nil {
		return false, &types.PersistenceFailure{Op: "append_spread_history", Err: err}
	}
	s.seen[key] = struct{}{}
	s.rowCount[row.Symbol]++
	return true, nil
}

// RecentSpreadHistory returns up to n most recent rows for symbol, oldest
// first. Implements market.HistoryStore.
func (s *Store) RecentSpreadHistory(symbol string, n int) ([]types.SpreadHistoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := readJSONLines[types.SpreadHistoryRow](filepath.Join(s.dir, historyFile))
	if err != nil {
		return nil, &types.PersistenceFailure{Op: "read_spread_history", Err: err}
	}
	var out []types.SpreadHistoryRow
	for _, row := range all {
		if row.Symbol == symbol {
			out = append(out, row)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// TrimSpreadHistory rewrites the spread-history log keeping only the most
// recent keep rows for symbol, leaving every other symbol's rows untouched.
// Implements market.HistoryStore.
func (s *Store) TrimSpreadHistory(symbol string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, historyFile)
	all, err := readJSONLines[types.SpreadHistoryRow](path)
	if err != nil {
		return &types.PersistenceFailure{Op: "trim_spread_history", Err: err}
	}

	bySymbol := make(map[string][]types.SpreadHistoryRow)
	var symbolOrder []string
	for _, row := range all {
		if _, ok := bySymbol[row.Symbol]; !ok {
			symbolOrder = append(symbolOrder, row.Symbol)
		}
		bySymbol[row.Symbol] = append(bySymbol[row.Symbol], row)
	}
	rows := bySymbol[symbol]
	if len(rows) <= keep {
		return nil
	}
	bySymbol[symbol] = rows[len(rows)-keep:]
	s.rowCount[symbol] = keep

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &types.PersistenceFailure{Op: "trim_spread_history", Err: err}
	}
	w := bufio.NewWriter(f)
	for _, sym := range symbolOrder {
		for _, row := range bySymbol[sym] {
			data, err := json.Marshal(row)
			if err != nil {
				f.Close()
				return &types.PersistenceFailure{Op: "trim_spread_history", Err: err}
			}
			if _, err := w.Write(append(data, '\n')); err != nil {
				f.Close()
				return &types.PersistenceFailure{Op: "trim_spread_history", Err: err}
			}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return &types.PersistenceFailure{Op: "trim_spread_history", Err: err}
	}
	if err := f.Close(); err != nil {
		return &types.PersistenceFailure{Op: "trim_spread_history", Err: err}
	}
	return os.Rename(tmp, path)
}
