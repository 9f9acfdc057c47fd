package series

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"chartcore/pkg/model"
)

// ErrStale is returned by Commit when a newer load has started
var ErrStale = errors.New("series: stale load result")

// SnapshotStore persists last-good series across restarts
type SnapshotStore interface {
	Save(ctx context.Context, s *model.ChartSeries) error
	Load(ctx context.Context, ticker string, r model.TimeRange, g model.Granularity) (*model.ChartSeries, error)
}

// Ticket identifies one in-flight load
type Ticket struct {
	ID     uint64
	cancel context.CancelFunc
}

type seriesKey struct {
	ticker string
	r      model.TimeRange
	g      model.Granularity
}

// Tracker orders overlapping loads. Starting a load cancels the previous one
// and only the newest ticket may commit.
type Tracker struct {
	mu       sync.Mutex
	seq      uint64
	cancel   context.CancelFunc
	lastGood map[seriesKey]*model.ChartSeries

	snapshots SnapshotStore
	logger    *slog.Logger
}

// NewTracker creates a tracker. snapshots may be nil.
func NewTracker(snapshots SnapshotStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		lastGood:  make(map[seriesKey]*model.ChartSeries),
		snapshots: snapshots,
		logger:    logger.With("component", "series-tracker"),
	}
}

// Begin starts a new load, cancelling the one in flight. The returned context
// is cancelled when a later load begins or Finish is called.
func (t *Tracker) Begin(parent context.Context) (context.Context, Ticket) {
	ctx, cancel := context.WithCancel(parent)

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.seq++
	t.cancel = cancel
	id := t.seq
	t.mu.Unlock()

	return ctx, Ticket{ID: id, cancel: cancel}
}

// Finish releases the ticket's context
func (t *Tracker) Finish(tk Ticket) {
	if tk.cancel != nil {
		tk.cancel()
	}
}

// Current returns the newest ticket id
func (t *Tracker) Current() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Commit records s as the visible series if tk is still the newest load
func (t *Tracker) Commit(ctx context.Context, tk Ticket, s *model.ChartSeries) error {
	if s == nil {
		return ErrEmptySeries
	}

	t.mu.Lock()
	if tk.ID != t.seq {
		t.mu.Unlock()
		return ErrStale
	}
	t.lastGood[keyOf(s.Ticker, s.Range, s.Granularity)] = s.Clone()
	t.mu.Unlock()

	if t.snapshots != nil {
		if err := t.snapshots.Save(ctx, s); err != nil {
			t.logger.Warn("snapshot save failed", "ticker", s.Ticker, "range", s.Range, "error", err)
		}
	}
	return nil
}

// LastGood returns the last committed series for the key, reading the
// snapshot store when nothing was committed in this process.
func (t *Tracker) LastGood(ctx context.Context, ticker string, r model.TimeRange, g model.Granularity) (*model.ChartSeries, bool) {
	key := keyOf(ticker, r, g)

	t.mu.Lock()
	s, ok := t.lastGood[key]
	t.mu.Unlock()
	if ok {
		return s.Clone(), true
	}

	if t.snapshots == nil {
		return nil, false
	}
	s, err := t.snapshots.Load(ctx, key.ticker, r, g)
	if err != nil || s.Len() == 0 {
		if err != nil {
			t.logger.Debug("no snapshot", "ticker", key.ticker, "range", r, "error", err)
		}
		return nil, false
	}

	t.mu.Lock()
	t.lastGood[key] = s.Clone()
	t.mu.Unlock()
	return s, true
}

func keyOf(ticker string, r model.TimeRange, g model.Granularity) seriesKey {
	return seriesKey{ticker: strings.ToUpper(ticker), r: r, g: g}
}
