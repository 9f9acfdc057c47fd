package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"chartcore/internal/clock"
	"chartcore/internal/provider"
	"chartcore/pkg/model"
)

// SQLiteStore keeps 5-minute candles, raw ticks and catalyst events. It acts
// as the "database" price source in front of the remote providers.
type SQLiteStore struct {
	db     *sql.DB
	clock  clock.Clock
	loc    *time.Location
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string, clk clock.Clock, loc *time.Location) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; readers queue behind it instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if loc == nil {
		loc = time.UTC
	}
	s := &SQLiteStore{
		db:     db,
		clock:  clock.OrSystem(clk),
		loc:    loc,
		logger: slog.Default().With("component", "sqlite-store"),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.logger.Info("sqlite store opened", "path", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles_5m (
			ticker  TEXT    NOT NULL,
			bucket  INTEGER NOT NULL,
			open    REAL    NOT NULL,
			high    REAL    NOT NULL,
			low     REAL    NOT NULL,
			close   REAL    NOT NULL,
			volume  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (ticker, bucket)
		)`,

		`CREATE TABLE IF NOT EXISTS intraday_ticks (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker  TEXT    NOT NULL,
			ts      INTEGER NOT NULL,
			open    REAL    NOT NULL,
			high    REAL    NOT NULL,
			low     REAL    NOT NULL,
			close   REAL    NOT NULL,
			volume  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_ticker_ts ON intraday_ticks(ticker, ts)`,

		`CREATE TABLE IF NOT EXISTS catalyst_events (
			id        TEXT PRIMARY KEY,
			ticker    TEXT NOT NULL,
			type      TEXT NOT NULL,
			actual_ts INTEGER,
			title     TEXT NOT NULL DEFAULT '',
			impact    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ticker ON catalyst_events(ticker)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// Upsert5MinCandles inserts or replaces candles keyed by bucket start
func (s *SQLiteStore) Upsert5MinCandles(ctx context.Context, ticker string, bars []model.PriceBar) error {
	ticker = strings.ToUpper(ticker)
	return s.inTx(ctx, `INSERT INTO candles_5m (ticker, bucket, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, bucket) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`,
		len(bars), func(stmt *sql.Stmt, i int) error {
			b := bars[i]
			_, err := stmt.ExecContext(ctx, ticker, b.Time.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume)
			return err
		})
}

// InsertTicks appends raw ticks
func (s *SQLiteStore) InsertTicks(ctx context.Context, ticker string, ticks []model.PriceBar) error {
	ticker = strings.ToUpper(ticker)
	return s.inTx(ctx, `INSERT INTO intraday_ticks (ticker, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		len(ticks), func(stmt *sql.Stmt, i int) error {
			t := ticks[i]
			_, err := stmt.ExecContext(ctx, ticker, t.Time.UnixMilli(), t.Open, t.High, t.Low, t.Close, t.Volume)
			return err
		})
}

// UpsertEvents inserts or replaces events by ID
func (s *SQLiteStore) UpsertEvents(ctx context.Context, events []model.CatalystEvent) error {
	return s.inTx(ctx, `INSERT INTO catalyst_events (id, ticker, type, actual_ts, title, impact)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ticker = excluded.ticker, type = excluded.type, actual_ts = excluded.actual_ts,
			title = excluded.title, impact = excluded.impact`,
		len(events), func(stmt *sql.Stmt, i int) error {
			e := events[i]
			var actual sql.NullInt64
			if e.ActualDateTime != nil {
				actual = sql.NullInt64{Int64: e.ActualDateTime.UnixMilli(), Valid: true}
			}
			_, err := stmt.ExecContext(ctx, e.ID, strings.ToUpper(e.Ticker), e.Type, actual, e.Title, e.ImpactRating)
			return err
		})
}

func (s *SQLiteStore) inTx(ctx context.Context, query string, n int, exec func(*sql.Stmt, int) error) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// CandleSource implementation
// ---------------------------------------------------------------------------

// FiveMinuteCandles returns the stored candles of the most recent day that has any
func (s *SQLiteStore) FiveMinuteCandles(ctx context.Context, ticker string) ([]model.PriceBar, error) {
	ticker = strings.ToUpper(ticker)

	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(bucket) FROM candles_5m WHERE ticker = ? AND bucket <= ?`,
		ticker, s.clock.Now().UnixMilli()).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("latest candle: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}

	local := time.UnixMilli(latest.Int64).In(s.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return s.queryBars(ctx,
		`SELECT bucket, open, high, low, close, volume FROM candles_5m
		 WHERE ticker = ? AND bucket >= ? ORDER BY bucket`,
		ticker, dayStart.UnixMilli())
}

// IntradayTicks returns ticks in [from, to)
func (s *SQLiteStore) IntradayTicks(ctx context.Context, ticker string, from, to time.Time) ([]model.PriceBar, error) {
	return s.queryBars(ctx,
		`SELECT ts, open, high, low, close, volume FROM intraday_ticks
		 WHERE ticker = ? AND ts >= ? AND ts < ? ORDER BY ts, id`,
		strings.ToUpper(ticker), from.UnixMilli(), to.UnixMilli())
}

func (s *SQLiteStore) queryBars(ctx context.Context, query string, args ...any) ([]model.PriceBar, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.PriceBar
	for rows.Next() {
		var (
			ms int64
			b  model.PriceBar
		)
		if err := rows.Scan(&ms, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Time = time.UnixMilli(ms).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ---------------------------------------------------------------------------
// PriceHistoryProvider implementation
// ---------------------------------------------------------------------------

// Name returns the provider name
func (s *SQLiteStore) Name() string { return "database" }

// IsAvailable is always true once the database is open
func (s *SQLiteStore) IsAvailable() bool { return true }

// RateLimit is 0: local reads are not rate limited
func (s *SQLiteStore) RateLimit() int { return 0 }

// GetHistoricalPrices serves intraday bars from ticks and everything else
// from 5-minute candles rolled up to g.
func (s *SQLiteStore) GetHistoricalPrices(ctx context.Context, ticker string, g model.Granularity, days int) (*model.HistoryResult, error) {
	ticker = strings.ToUpper(ticker)
	to := s.clock.Now()
	from := to.AddDate(0, 0, -max(days, 1))

	var (
		bars []model.PriceBar
		err  error
	)
	if g == model.GranularityIntraday {
		bars, err = s.IntradayTicks(ctx, ticker, from, to.Add(time.Millisecond))
	} else {
		bars, err = s.queryBars(ctx,
			`SELECT bucket, open, high, low, close, volume FROM candles_5m
			 WHERE ticker = ? AND bucket >= ? AND bucket <= ? ORDER BY bucket`,
			ticker, from.UnixMilli(), to.UnixMilli())
	}
	if err != nil {
		return nil, &provider.ProviderError{Provider: s.Name(), Err: err, Retryable: false}
	}
	if g != model.Granularity5Min {
		bars = provider.Resample(bars, g, s.loc)
	}
	if len(bars) == 0 {
		return nil, &provider.ProviderError{Provider: s.Name(), Err: provider.ErrNoData, Retryable: false}
	}

	return &model.HistoryResult{
		Prices:    bars,
		Source:    model.SourceDatabase,
		Symbol:    ticker,
		Timeframe: g,
		From:      from,
		To:        to,
	}, nil
}

// ---------------------------------------------------------------------------
// EventsProvider implementation
// ---------------------------------------------------------------------------

// GetEventsByTicker returns stored events in time order, undated ones last
func (s *SQLiteStore) GetEventsByTicker(ctx context.Context, ticker string) ([]model.CatalystEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ticker, type, actual_ts, title, impact FROM catalyst_events
		 WHERE ticker = ? ORDER BY actual_ts IS NULL, actual_ts, id`,
		strings.ToUpper(ticker))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []model.CatalystEvent
	for rows.Next() {
		var (
			e      model.CatalystEvent
			actual sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Ticker, &e.Type, &actual, &e.Title, &e.ImpactRating); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if actual.Valid {
			t := time.UnixMilli(actual.Int64).UTC()
			e.ActualDateTime = &t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
