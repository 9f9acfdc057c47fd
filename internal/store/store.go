// Package store persists candles, ticks, events and last-good series on local disk.
package store

import (
	"errors"

	"chartcore/internal/candles"
	"chartcore/internal/provider"
	"chartcore/internal/series"
)

// ErrNotFound is returned when nothing is stored under the requested key
var ErrNotFound = errors.New("store: not found")

// Compile-time interface checks.
var _ candles.Store = (*SQLiteStore)(nil)
var _ provider.PriceHistoryProvider = (*SQLiteStore)(nil)
var _ provider.EventsProvider = (*SQLiteStore)(nil)
var _ series.SnapshotStore = (*SnapshotStore)(nil)
