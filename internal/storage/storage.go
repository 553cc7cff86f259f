// Package storage provides SQLite-backed persistence for the price history
// and the alert event log.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kalyro/vigil/internal/models"
)

// Store wraps a SQLite database holding two independent append-only
// relations: price_history and event_log. Writes are inserts only; WAL mode
// allows concurrent readers alongside the single writer.
type Store struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/vigil/data.db.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "vigil", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_history (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol    TEXT NOT NULL,
			price     REAL NOT NULL,
			volume    REAL NOT NULL DEFAULT 0,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_log (
			id           TEXT PRIMARY KEY,
			symbol       TEXT NOT NULL,
			price        REAL NOT NULL,
			volatility   REAL NOT NULL,
			level        TEXT NOT NULL,
			analysis     TEXT,
			news_summary TEXT,
			timestamp    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_symbol_time ON price_history(symbol, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_event_symbol_time ON event_log(symbol, timestamp DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AppendPrice appends one price observation. Append-only: identical calls
// produce distinct rows, duplicates are never collapsed.
func (s *Store) AppendPrice(symbol string, price, volume float64, ts time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO price_history (symbol, price, volume, timestamp)
		VALUES (?,?,?,?)`,
		symbol, price, volume, ts.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert price: %w", err)
	}
	return nil
}

// PriceHistory returns the samples for symbol within the trailing window,
// newest first. Only the persisted columns are populated.
func (s *Store) PriceHistory(symbol string, window time.Duration) ([]models.PriceSample, error) {
	cutoff := time.Now().Add(-window).UnixNano()
	rows, err := s.db.Query(`
		SELECT symbol, price, volume, timestamp
		FROM price_history
		WHERE symbol = ? AND timestamp >= ?
		ORDER BY timestamp DESC`,
		symbol, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	var samples []models.PriceSample
	for rows.Next() {
		var p models.PriceSample
		var tsNano int64
		if err := rows.Scan(&p.Symbol, &p.Price, &p.Volume24h, &tsNano); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		p.ObservedAt = time.Unix(0, tsNano)
		samples = append(samples, p)
	}
	return samples, rows.Err()
}

// AppendEvent appends the outcome of an analyzed alert to the event log.
func (s *Store) AppendEvent(alert models.Alert, analysis, newsSummary string) error {
	id := alert.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO event_log (id, symbol, price, volatility, level, analysis, news_summary, timestamp)
		VALUES (?,?,?,?,?,?,?,?)`,
		id, alert.Symbol, alert.CurrentPrice, alert.Volatility, string(alert.Level),
		analysis, newsSummary, alert.TriggeredAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// LastAlert returns the most recent event log entry for symbol, or nil when
// the symbol has no recorded events.
func (s *Store) LastAlert(symbol string) (*models.EventLogEntry, error) {
	row := s.db.QueryRow(`
		SELECT `+eventCols+`
		FROM event_log
		WHERE symbol = ?
		ORDER BY timestamp DESC
		LIMIT 1`, symbol)
	e, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last alert: %w", err)
	}
	return e, nil
}

// SimilarEvents returns up to 5 past events for symbol within the trailing
// windowDays whose |volatility| is at least 0.8× the given magnitude, newest
// first. Intentionally permissive so analysis context has candidates even
// without an exact historical match.
func (s *Store) SimilarEvents(symbol string, volatility float64, windowDays int) ([]models.EventLogEntry, error) {
	cutoff := time.Now().AddDate(0, 0, -windowDays).UnixNano()
	floor := 0.8 * abs(volatility)
	rows, err := s.db.Query(`
		SELECT `+eventCols+`
		FROM event_log
		WHERE symbol = ? AND abs(volatility) >= ? AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT 5`,
		symbol, floor, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar events: %w", err)
	}
	defer rows.Close()

	var events []models.EventLogEntry
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// PurgeOlderThan deletes rows older than the cutoff from both logs. Storage
// hygiene only; not correctness-critical.
func (s *Store) PurgeOlderThan(days int) error {
	cutoff := time.Now().AddDate(0, 0, -days).UnixNano()
	if _, err := s.db.Exec(`DELETE FROM price_history WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to purge price history: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM event_log WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to purge event log: %w", err)
	}
	return nil
}

const eventCols = `id, symbol, price, volatility, level, analysis, news_summary, timestamp`

func scanEvent(scan func(...any) error) (*models.EventLogEntry, error) {
	var e models.EventLogEntry
	var level string
	var tsNano int64
	err := scan(&e.ID, &e.Symbol, &e.Price, &e.Volatility, &level, &e.Analysis, &e.NewsSummary, &tsNano)
	if err != nil {
		return nil, err
	}
	e.Level = models.Level(level)
	e.LoggedAt = time.Unix(0, tsNano)
	return &e, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
