package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chartcore/internal/clock"
	"chartcore/pkg/model"
)

// ClosePriceSource supplies the last regular-session close for a ticker
type ClosePriceSource interface {
	GetMarketClosePrice(ctx context.Context, ticker string) (float64, bool, error)
}

// Watcher refreshes the market status on a fixed interval and fans it out to
// subscribers. Outside regular hours it also refreshes the close price of a
// ticker. Stop (or cancelling the Start context) tears the loop down.
type Watcher struct {
	schedule Schedule
	clock    clock.Clock
	holidays HolidayLookup
	closes   ClosePriceSource
	ticker   string
	interval time.Duration
	log      *slog.Logger

	cron     *cron.Cron
	stopOnce sync.Once

	mu      sync.RWMutex
	current MarketStatus

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan MarketStatus
}

// WatcherOptions configures a Watcher
type WatcherOptions struct {
	Schedule Schedule
	Clock    clock.Clock
	Holidays HolidayLookup
	Closes   ClosePriceSource // optional
	Ticker   string           // optional, required for close price refresh
	Interval time.Duration    // default 60s
	Logger   *slog.Logger
}

// NewWatcher creates a stopped watcher
func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		schedule: opts.Schedule,
		clock:    clock.OrSystem(opts.Clock),
		holidays: opts.Holidays,
		closes:   opts.Closes,
		ticker:   opts.Ticker,
		interval: opts.Interval,
		log:      opts.Logger.With("component", "market-watcher"),
		cron:     cron.New(),
		subs:     make(map[int]chan MarketStatus),
	}
}

// Start refreshes once, then schedules refreshes every interval until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", w.interval)
	if _, err := w.cron.AddFunc(spec, func() { w.Refresh(ctx) }); err != nil {
		return fmt.Errorf("scheduling market refresh: %w", err)
	}

	w.Refresh(ctx)
	w.cron.Start()
	w.log.Info("market watcher started", "interval", w.interval, "ticker", w.ticker)

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop halts the refresh loop and closes every subscription. Safe to call twice.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		<-w.cron.Stop().Done()

		w.subsMu.Lock()
		for id, ch := range w.subs {
			close(ch)
			delete(w.subs, id)
		}
		w.subsMu.Unlock()
		w.log.Info("market watcher stopped")
	})
}

// Refresh recomputes the status now and notifies subscribers
func (w *Watcher) Refresh(ctx context.Context) MarketStatus {
	now := w.clock.Now()
	holiday := IsTodayHoliday(ctx, w.holidays, w.clock, w.log)
	status := GetMarketStatus(now, w.schedule, holiday)

	if status.Session != model.SessionRegular && w.closes != nil && w.ticker != "" {
		price, ok, err := w.closes.GetMarketClosePrice(ctx, w.ticker)
		switch {
		case err != nil:
			w.log.Warn("close price refresh failed", "ticker", w.ticker, "error", err)
		case ok && model.ValidPrice(price):
			status.ClosePrice = price
			status.ClosePriceFor = w.ticker
		}
	}

	w.mu.Lock()
	w.current = status
	w.mu.Unlock()

	w.log.Debug("market status refreshed", "session", status.Session, "reason", status.Reason)
	w.publish(status)
	return status
}

// Current returns the last refreshed status
func (w *Watcher) Current() MarketStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe creates a status channel. Slow subscribers miss updates rather than block the loop.
func (w *Watcher) Subscribe(bufSize int) (id int, ch <-chan MarketStatus) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	id = w.nextSubID
	w.nextSubID++
	c := make(chan MarketStatus, bufSize)
	w.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel
func (w *Watcher) Unsubscribe(id int) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	if ch, ok := w.subs[id]; ok {
		close(ch)
		delete(w.subs, id)
	}
}

func (w *Watcher) publish(status MarketStatus) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- status:
		default:
		}
	}
}
