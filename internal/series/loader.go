package series

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"chartcore/internal/clock"
	"chartcore/internal/market"
	"chartcore/internal/provider"
	"chartcore/pkg/model"
)

// ErrEmptySeries is returned when the primary fetch produced no usable bars
var ErrEmptySeries = errors.New("series: no price data")

// Loader fetches a series for a (ticker, range, mini) request
type Loader struct {
	history            provider.PriceHistoryProvider
	schedule           market.Schedule
	planner            Planner
	clock              clock.Clock
	timeout            time.Duration
	volumeBackfillDays int
	logger             *slog.Logger
}

// LoaderOptions configures a Loader. Zero values take defaults.
type LoaderOptions struct {
	History            provider.PriceHistoryProvider
	Schedule           market.Schedule
	Planner            Planner
	Clock              clock.Clock
	Timeout            time.Duration // default 15s
	VolumeBackfillDays int           // default 90
	Logger             *slog.Logger
}

// NewLoader creates a loader
func NewLoader(opts LoaderOptions) *Loader {
	if opts.Schedule.Location == nil {
		opts.Schedule = market.DefaultSchedule()
	}
	if opts.Planner.IntradayLookbackDays == 0 && opts.Planner.MiniLookbackDays == 0 {
		opts.Planner = DefaultPlanner()
	}
	if opts.Planner.Location == nil {
		opts.Planner.Location = opts.Schedule.Location
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.VolumeBackfillDays <= 0 {
		opts.VolumeBackfillDays = 90
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		history:            opts.History,
		schedule:           opts.Schedule,
		planner:            opts.Planner,
		clock:              clock.OrSystem(opts.Clock),
		timeout:            opts.Timeout,
		volumeBackfillDays: opts.VolumeBackfillDays,
		logger:             logger.With("component", "series-loader"),
	}
}

// Plan returns what Load would request for r at the current instant
func (l *Loader) Plan(r model.TimeRange, mini bool) Plan {
	return l.planner.PlanFor(r, mini, l.clock.Now())
}

// Load fetches, cleans and tags a new series. A primary fetch failure or
// timeout is returned as an error; the volume backfill never fails the load.
func (l *Loader) Load(ctx context.Context, ticker string, r model.TimeRange, mini bool) (*model.ChartSeries, error) {
	if l.history == nil {
		return nil, fmt.Errorf("series: no price history provider")
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, fmt.Errorf("series: ticker is required")
	}

	now := l.clock.Now()
	plan := l.planner.PlanFor(r, mini, now)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	res, err := l.history.GetHistoricalPrices(ctx, ticker, plan.Granularity, plan.Days)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("loading %s %s: timed out after %s: %w", ticker, r, l.timeout, err)
		}
		return nil, fmt.Errorf("loading %s %s: %w", ticker, r, err)
	}

	// 1D searches far back on purpose; elsewhere a clamped window means a short chart
	if want := now.AddDate(0, 0, -plan.Days); plan.Granularity != model.GranularityIntraday &&
		!res.From.IsZero() && res.From.Sub(want) > 24*time.Hour {
		l.logger.Warn("provider shortened the lookback",
			"ticker", ticker, "range", r, "granularity", plan.Granularity, "from", res.From, "wanted", want)
	}

	bars := cleanBars(res.Prices)
	if dropped := len(res.Prices) - len(bars); dropped > 0 {
		l.logger.Warn("dropped invalid bars", "ticker", ticker, "range", r, "dropped", dropped)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("loading %s %s: %w", ticker, r, ErrEmptySeries)
	}

	switch {
	case plan.Granularity == model.GranularityIntraday:
		bars = l.schedule.TagSessions(LatestDay(bars, l.schedule))
	case plan.Granularity.IsIntraday():
		bars = l.schedule.TagSessions(bars)
	default:
		bars = l.backfillVolume(ctx, ticker, plan.Days, bars)
	}

	source := res.Source
	if source == "" {
		source = model.SourceAPI
	}

	l.logger.Debug("series loaded",
		"ticker", ticker,
		"range", r,
		"granularity", plan.Granularity,
		"bars", len(bars),
		"source", source,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return &model.ChartSeries{
		ID:          uuid.New().String(),
		Ticker:      ticker,
		Range:       r,
		Granularity: plan.Granularity,
		Source:      source,
		Bars:        bars,
		LoadedAt:    now,
	}, nil
}

// backfillVolume runs the secondary hourly fetch. Errors are logged and the
// daily bars come back unchanged.
func (l *Loader) backfillVolume(ctx context.Context, ticker string, days int, daily []model.PriceBar) []model.PriceBar {
	if !hasZeroVolume(daily) {
		return daily
	}
	if days > l.volumeBackfillDays {
		days = l.volumeBackfillDays
	}

	res, err := l.history.GetHistoricalPrices(ctx, ticker, model.GranularityHourly, days)
	if err != nil {
		l.logger.Debug("hourly volume backfill failed", "ticker", ticker, "error", err)
		return daily
	}
	return MergeDailyVolume(daily, res.Prices, l.schedule.Location)
}

// LatestDay keeps only the bars on the exchange calendar day of the last bar.
// bars must be sorted.
func LatestDay(bars []model.PriceBar, s market.Schedule) []model.PriceBar {
	if len(bars) == 0 {
		return nil
	}
	last := bars[len(bars)-1].Time
	i := sort.Search(len(bars), func(i int) bool {
		return s.SameDay(bars[i].Time, last) || bars[i].Time.After(last)
	})
	out := make([]model.PriceBar, len(bars)-i)
	copy(out, bars[i:])
	return out
}

// cleanBars sorts bars, drops invalid ones and collapses duplicate timestamps
// (the later entry wins).
func cleanBars(in []model.PriceBar) []model.PriceBar {
	out := make([]model.PriceBar, 0, len(in))
	for _, b := range in {
		if b.Valid() {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})

	deduped := out[:0]
	for _, b := range out {
		if n := len(deduped); n > 0 && deduped[n-1].Time.Equal(b.Time) {
			deduped[n-1] = b
			continue
		}
		deduped = append(deduped, b)
	}
	return deduped
}

func hasZeroVolume(bars []model.PriceBar) bool {
	for _, b := range bars {
		if b.Volume == 0 {
			return true
		}
	}
	return false
}
