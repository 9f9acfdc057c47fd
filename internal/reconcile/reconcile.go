// Package reconcile merges a live quote into the tail of a loaded series.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"

	"chartcore/internal/clock"
	"chartcore/internal/market"
	"chartcore/pkg/model"
)

// ErrInvalidPrice is returned for NaN, infinite or non-positive live prices
var ErrInvalidPrice = errors.New("reconcile: invalid live price")

// Options describe the series being reconciled
type Options struct {
	Intraday  bool // keep the last bar's bucket time instead of moving it to now
	Holiday   bool // today is an exchange holiday
	SingleDay bool // the series is one trading day drawn on its own time axis
}

// Action reports what Reconcile did
type Action string

const (
	ActionNone     Action = "none"
	ActionReplaced Action = "replaced"
	ActionAppended Action = "appended"
)

// Reconciler applies live prices using an injected clock and schedule
type Reconciler struct {
	Clock    clock.Clock
	Schedule market.Schedule
	Logger   *slog.Logger
}

// New creates a reconciler
func New(clk clock.Clock, s market.Schedule, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{Clock: clk, Schedule: s, Logger: logger.With("component", "reconcile")}
}

// Reconcile returns a new series with live merged in. The input is never
// modified and the result depends only on the inputs and the clock.
func (r *Reconciler) Reconcile(s *model.ChartSeries, live model.LivePoint, opts Options) (*model.ChartSeries, error) {
	out, _, err := r.Apply(s, live, opts)
	return out, err
}

// Apply is Reconcile that also reports the action taken
func (r *Reconciler) Apply(s *model.ChartSeries, live model.LivePoint, opts Options) (*model.ChartSeries, Action, error) {
	if !model.ValidPrice(live.Price) {
		return nil, ActionNone, fmt.Errorf("%w: %v", ErrInvalidPrice, live.Price)
	}

	out := s.Clone()
	last, ok := out.Last()
	if !ok {
		return out, ActionNone, nil
	}

	sched := r.schedule()
	now := clock.OrSystem(r.Clock).Now()
	lastDay := sched.Day(last.Time)
	today := sched.Day(now)

	switch {
	case lastDay.Equal(today):
		b := &out.Bars[len(out.Bars)-1]
		b.Close = live.Price
		if live.Price > b.High {
			b.High = live.Price
		}
		if live.Price < b.Low {
			b.Low = live.Price
		}
		if !opts.Intraday {
			b.Time = now
		}
		return out, ActionReplaced, nil

	case lastDay.Before(today):
		if sched.IsWeekend(now) || opts.Holiday {
			return out, ActionNone, nil
		}
		// A live point from another day has no place on a single-day axis
		if opts.SingleDay {
			return out, ActionNone, nil
		}
		// Nothing is appended until the regular session opens
		if now.Before(sched.Regular(now).Open) {
			return out, ActionNone, nil
		}
		out.Bars = append(out.Bars, model.PriceBar{
			Time:    now,
			Open:    live.Price,
			High:    live.Price,
			Low:     live.Price,
			Close:   live.Price,
			Volume:  0,
			Session: sched.SessionOf(now),
		})
		return out, ActionAppended, nil

	default:
		// Last bar is dated after today; leave it alone
		r.logger().Debug("series ends after today", "ticker", s.Ticker, "last", last.Time, "now", now)
		return out, ActionNone, nil
	}
}

func (r *Reconciler) schedule() market.Schedule {
	if r.Schedule.Location == nil {
		return market.DefaultSchedule()
	}
	return r.Schedule
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
