package candles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chartcore/internal/clock"
	"chartcore/internal/market"
	"chartcore/pkg/model"
)

// QuoteSource supplies the last trade price
type QuoteSource interface {
	GetQuote(ctx context.Context, ticker string) (*model.Quote, error)
}

// Store is where the recorder writes. It must also read ticks back for roll-up.
type Store interface {
	CandleSource
	InsertTicks(ctx context.Context, ticker string, ticks []model.PriceBar) error
	Upsert5MinCandles(ctx context.Context, ticker string, bars []model.PriceBar) error
}

// Recorder samples quotes into the tick table during extended hours and
// rolls each finished bucket up into a stored 5-minute candle.
type Recorder struct {
	quotes   QuoteSource
	store    Store
	schedule market.Schedule
	holidays market.HolidayLookup
	clock    clock.Clock
	tickers  []string
	interval time.Duration
	logger   *slog.Logger

	cron     *cron.Cron
	stopOnce sync.Once

	mu         sync.Mutex
	lastBucket time.Time
}

// RecorderOptions configures a Recorder
type RecorderOptions struct {
	Quotes   QuoteSource
	Store    Store
	Schedule market.Schedule
	Holidays market.HolidayLookup // default: static NYSE table
	Clock    clock.Clock
	Tickers  []string
	Interval time.Duration // default 15s
	Logger   *slog.Logger
}

// NewRecorder creates a stopped recorder
func NewRecorder(opts RecorderOptions) *Recorder {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Schedule.Location == nil {
		opts.Schedule = market.DefaultSchedule()
	}
	if opts.Holidays == nil {
		opts.Holidays = market.NewStaticHolidays(opts.Schedule.Location)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	tickers := make([]string, 0, len(opts.Tickers))
	for _, t := range opts.Tickers {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			tickers = append(tickers, t)
		}
	}
	return &Recorder{
		quotes:   opts.Quotes,
		store:    opts.Store,
		schedule: opts.Schedule,
		holidays: opts.Holidays,
		clock:    clock.OrSystem(opts.Clock),
		tickers:  tickers,
		interval: opts.Interval,
		logger:   opts.Logger.With("component", "tick-recorder"),
		cron:     cron.New(),
	}
}

// Start records once, then on every interval until ctx is cancelled or Stop is called
func (r *Recorder) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.interval), func() { r.Record(ctx) }); err != nil {
		return fmt.Errorf("scheduling tick recorder: %w", err)
	}
	r.Record(ctx)
	r.cron.Start()
	r.logger.Info("tick recorder started", "interval", r.interval, "tickers", len(r.tickers))

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts recording. Safe to call twice.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		<-r.cron.Stop().Done()
		r.logger.Info("tick recorder stopped")
	})
}

// Record samples every ticker once. Outside the extended session and on
// exchange holidays it does nothing. When the bucket has moved on since the last sample, the previous
// bucket is rolled up first.
func (r *Recorder) Record(ctx context.Context) {
	now := r.clock.Now()
	if r.schedule.SessionOf(now) == model.SessionClosed {
		return
	}
	if market.IsTodayHoliday(ctx, r.holidays, r.clock, r.logger) {
		return
	}
	bucket := CurrentBucket(now)

	r.mu.Lock()
	prev := r.lastBucket
	r.lastBucket = bucket
	r.mu.Unlock()

	for _, ticker := range r.tickers {
		if ctx.Err() != nil {
			return
		}
		if !prev.IsZero() && prev.Before(bucket) {
			if err := r.rollUp(ctx, ticker, prev); err != nil {
				r.logger.Warn("candle roll-up failed", "ticker", ticker, "bucket", prev, "error", err)
			}
		}
		if err := r.sample(ctx, ticker, now); err != nil {
			r.logger.Debug("tick sample skipped", "ticker", ticker, "error", err)
		}
	}
}

func (r *Recorder) sample(ctx context.Context, ticker string, now time.Time) error {
	q, err := r.quotes.GetQuote(ctx, ticker)
	if err != nil {
		return err
	}
	if !model.ValidPrice(q.CurrentPrice) {
		return fmt.Errorf("invalid price %v", q.CurrentPrice)
	}
	p := q.CurrentPrice
	return r.store.InsertTicks(ctx, ticker, []model.PriceBar{{Time: now, Open: p, High: p, Low: p, Close: p}})
}

func (r *Recorder) rollUp(ctx context.Context, ticker string, bucket time.Time) error {
	ticks, err := r.store.IntradayTicks(ctx, ticker, bucket, bucket.Add(BucketWidth))
	if err != nil {
		return err
	}
	c, ok := FormingCandle(ticks, bucket)
	if !ok {
		return nil
	}
	return r.store.Upsert5MinCandles(ctx, ticker, []model.PriceBar{c})
}
