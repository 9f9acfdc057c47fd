package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"chartcore/pkg/model"
)

// SnapshotRecord is one bar of a persisted series. Series metadata repeats on
// every row so a file is self-describing.
type SnapshotRecord struct {
	SeriesID    string  `parquet:"series_id"`
	Ticker      string  `parquet:"ticker"`
	Range       string  `parquet:"range"`
	Granularity string  `parquet:"granularity"`
	Source      string  `parquet:"source"`
	LoadedAt    int64   `parquet:"loaded_at,timestamp(millisecond)"`
	Timestamp   int64   `parquet:"timestamp,timestamp(millisecond)"`
	Open        float64 `parquet:"open"`
	High        float64 `parquet:"high"`
	Low         float64 `parquet:"low"`
	Close       float64 `parquet:"close"`
	Volume      int64   `parquet:"volume"`
	Session     string  `parquet:"session"`
}

// SnapshotStore keeps the last good series per (ticker, range, granularity)
// as parquet files under dir.
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore returns a store rooted at dir
func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{dir: dir}
}

// Path returns the file for a series key: <dir>/<TICKER>/<RANGE>_<granularity>.parquet
func (s *SnapshotStore) Path(ticker string, r model.TimeRange, g model.Granularity) string {
	return filepath.Join(s.dir, strings.ToUpper(ticker), fmt.Sprintf("%s_%s.parquet", r, g))
}

// Save writes the series atomically, replacing any earlier snapshot.
func (s *SnapshotStore) Save(_ context.Context, cs *model.ChartSeries) error {
	if cs == nil || len(cs.Bars) == 0 {
		return fmt.Errorf("snapshot: refusing to save empty series")
	}

	records := make([]SnapshotRecord, len(cs.Bars))
	for i, b := range cs.Bars {
		records[i] = SnapshotRecord{
			SeriesID:    cs.ID,
			Ticker:      strings.ToUpper(cs.Ticker),
			Range:       string(cs.Range),
			Granularity: string(cs.Granularity),
			Source:      string(cs.Source),
			LoadedAt:    cs.LoadedAt.UnixMilli(),
			Timestamp:   b.Time.UnixMilli(),
			Open:        b.Open,
			High:        b.High,
			Low:         b.Low,
			Close:       b.Close,
			Volume:      b.Volume,
			Session:     string(b.Session),
		}
	}

	path := s.Path(cs.Ticker, cs.Range, cs.Granularity)
	tmp := path + ".tmp"
	if err := writeParquetFile(tmp, records); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename snapshot %s: %w", path, err)
	}
	return nil
}

// Load reads a snapshot back. Missing files return ErrNotFound.
func (s *SnapshotStore) Load(_ context.Context, ticker string, r model.TimeRange, g model.Granularity) (*model.ChartSeries, error) {
	path := s.Path(ticker, r, g)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	records, err := readParquetFile[SnapshotRecord](path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}

	first := records[0]
	cs := &model.ChartSeries{
		ID:          first.SeriesID,
		Ticker:      first.Ticker,
		Range:       model.TimeRange(first.Range),
		Granularity: model.Granularity(first.Granularity),
		Source:      model.Source(first.Source),
		LoadedAt:    time.UnixMilli(first.LoadedAt).UTC(),
		Bars:        make([]model.PriceBar, len(records)),
	}
	for i, rec := range records {
		cs.Bars[i] = model.PriceBar{
			Time:    time.UnixMilli(rec.Timestamp).UTC(),
			Open:    rec.Open,
			High:    rec.High,
			Low:     rec.Low,
			Close:   rec.Close,
			Volume:  rec.Volume,
			Session: model.Session(rec.Session),
		}
	}
	return cs, nil
}

// ---------------------------------------------------------------------------
// Generic parquet helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}
