// Package service assembles a renderable chart view from the loader,
// reconciler, event matcher and renderer. The CLI and the web API both go
// through it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"chartcore/internal/candles"
	"chartcore/internal/catalyst"
	"chartcore/internal/chart"
	"chartcore/internal/clock"
	"chartcore/internal/market"
	"chartcore/internal/provider"
	"chartcore/internal/reconcile"
	"chartcore/internal/series"
	"chartcore/internal/spline"
	"chartcore/pkg/model"
)

var (
	// ErrInvalidRequest is returned for a missing ticker or unknown range
	ErrInvalidRequest = errors.New("service: invalid request")
	// ErrCandlesUnavailable is returned by Candles when no candle source is configured
	ErrCandlesUnavailable = errors.New("service: candle source not configured")
)

// Request selects what to draw. View identifies the chart on screen: a new
// request for the same view supersedes the one in flight. It defaults to the
// ticker.
type Request struct {
	Ticker string
	Range  model.TimeRange
	Mini   bool
	View   string
}

// Segment is one session run of the drawn line
type Segment struct {
	Session model.Session `json:"session"`
	D       string        `json:"d"`
	Opacity float64       `json:"opacity"`
}

// View is everything a renderer needs for one chart
type View struct {
	Ticker         string                `json:"ticker"`
	Range          model.TimeRange       `json:"range"`
	Granularity    model.Granularity     `json:"granularity"`
	Mini           bool                  `json:"mini"`
	Series         *model.ChartSeries    `json:"series,omitempty"`
	Points         []model.ChartPoint    `json:"points"`
	Classification market.Classification `json:"classification"`
	Period         chart.Period          `json:"period"`
	Layout         chart.Layout          `json:"layout"`
	Screen         []model.ScreenPoint   `json:"screen"`
	Path           string                `json:"path"`
	Segments       []Segment             `json:"segments"`
	Boundaries     *chart.Boundaries     `json:"boundaries,omitempty"`
	Live           *model.LivePoint      `json:"live,omitempty"`
	Reconciled     reconcile.Action      `json:"reconciled"`
	Stale          bool                  `json:"stale"`
	Error          string                `json:"error,omitempty"`
}

// Options wires a Service. Only Loader is required.
type Options struct {
	Loader          *series.Loader
	Snapshots       series.SnapshotStore
	Quotes          provider.QuoteProvider
	Closes          provider.MarketClosePriceProvider
	Events          provider.EventsProvider
	Holidays        market.HolidayLookup
	Candles         *candles.Aggregator
	Schedule        market.Schedule
	Clock           clock.Clock
	Layout          chart.Layout
	MiniLayout      chart.Layout
	SparseThreshold int
	MaxViews        int // trackers kept, least recently used evicted first; default 256
	Logger          *slog.Logger
}

// Service builds chart views
type Service struct {
	loader     *series.Loader
	snapshots  series.SnapshotStore
	quotes     provider.QuoteProvider
	closes     provider.MarketClosePriceProvider
	events     provider.EventsProvider
	holidays   market.HolidayLookup
	candles    *candles.Aggregator
	schedule   market.Schedule
	clock      clock.Clock
	reconciler *reconcile.Reconciler
	layout     chart.Layout
	miniLayout chart.Layout
	threshold  int
	logger     *slog.Logger

	mu       sync.Mutex
	trackers *lru.Cache[string, *series.Tracker]
}

// New creates a service
func New(opts Options) *Service {
	if opts.Schedule.Location == nil {
		opts.Schedule = market.DefaultSchedule()
	}
	if opts.Layout.Width == 0 {
		opts.Layout = chart.DefaultLayout()
	}
	if opts.MiniLayout.Width == 0 {
		opts.MiniLayout = chart.Layout{Width: 160, Height: 48, PadTop: 4, PadBottom: 4}
	}
	if opts.SparseThreshold <= 0 {
		opts.SparseThreshold = 50
	}
	if opts.MaxViews <= 0 {
		opts.MaxViews = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	clk := clock.OrSystem(opts.Clock)
	// Only errors for a non-positive size
	trackers, _ := lru.New[string, *series.Tracker](opts.MaxViews)

	return &Service{
		loader:     opts.Loader,
		snapshots:  opts.Snapshots,
		quotes:     opts.Quotes,
		closes:     opts.Closes,
		events:     opts.Events,
		holidays:   opts.Holidays,
		candles:    opts.Candles,
		schedule:   opts.Schedule,
		clock:      clk,
		reconciler: reconcile.New(clk, opts.Schedule, opts.Logger),
		layout:     opts.Layout,
		miniLayout: opts.MiniLayout,
		threshold:  opts.SparseThreshold,
		logger:     opts.Logger.With("component", "chart-service"),
		trackers:   trackers,
	}
}

func (s *Service) tracker(view string) *series.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers.Get(view)
	if !ok {
		t = series.NewTracker(s.snapshots, s.logger)
		s.trackers.Add(view, t)
	}
	return t
}

// Build loads and renders one chart. A failed load still returns a view:
// the last good series marked stale, or an empty view, with Error set.
// series.ErrStale means a newer request for the same view superseded this one.
func (s *Service) Build(ctx context.Context, req Request) (*View, error) {
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		return nil, fmt.Errorf("%w: ticker is required", ErrInvalidRequest)
	}
	if req.Range == "" {
		req.Range = model.Range1D
	}
	if _, err := model.ParseTimeRange(string(req.Range)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	view := req.View
	if view == "" {
		view = ticker
	}

	plan := s.loader.Plan(req.Range, req.Mini)
	v := &View{
		Ticker:      ticker,
		Range:       req.Range,
		Granularity: plan.Granularity,
		Mini:        req.Mini,
		Reconciled:  reconcile.ActionNone,
	}

	tr := s.tracker(view)
	loadCtx, tk := tr.Begin(ctx)
	defer tr.Finish(tk)

	loaded, err := s.loader.Load(loadCtx, ticker, req.Range, req.Mini)
	if err != nil && tr.Current() != tk.ID {
		return nil, series.ErrStale
	}
	holiday := market.IsTodayHoliday(ctx, s.holidays, s.clock, s.logger)

	if err != nil {
		s.logger.Warn("chart load failed", "ticker", ticker, "range", req.Range, "error", err)
		v.Error = err.Error()
		last, ok := tr.LastGood(ctx, ticker, req.Range, plan.Granularity)
		if !ok {
			s.render(ctx, v, nil, holiday)
			return v, nil
		}
		v.Stale = true
		loaded = last
	} else if err := tr.Commit(loadCtx, tk, loaded); err != nil {
		return nil, err
	}

	shown := loaded
	if live, ok := s.livePoint(ctx, ticker, holiday); ok {
		out, action, err := s.reconciler.Apply(loaded, live, reconcile.Options{
			Intraday:  plan.Granularity.IsIntraday(),
			Holiday:   holiday,
			SingleDay: plan.Granularity == model.GranularityIntraday,
		})
		if err != nil {
			s.logger.Warn("live price skipped", "ticker", ticker, "price", live.Price, "error", err)
		} else {
			shown = out
			v.Live = &live
			v.Reconciled = action
		}
	}

	s.render(ctx, v, shown, holiday)
	return v, nil
}

// livePoint fetches the current price. Outside the regular session the
// official close takes precedence over the last trade.
func (s *Service) livePoint(ctx context.Context, ticker string, holiday bool) (model.LivePoint, bool) {
	now := s.clock.Now()

	if s.closes != nil && market.GetMarketStatus(now, s.schedule, holiday).Session != model.SessionRegular {
		price, ok, err := s.closes.GetMarketClosePrice(ctx, ticker)
		switch {
		case err != nil:
			s.logger.Debug("close price unavailable", "ticker", ticker, "error", err)
		case ok:
			return model.LivePoint{Price: price, Time: now}, true
		}
	}

	if s.quotes == nil {
		return model.LivePoint{}, false
	}
	q, err := s.quotes.GetQuote(ctx, ticker)
	if err != nil {
		s.logger.Debug("quote unavailable", "ticker", ticker, "error", err)
		return model.LivePoint{}, false
	}
	return model.LivePoint{Price: q.CurrentPrice, Time: now}, true
}

func (s *Service) render(ctx context.Context, v *View, cs *model.ChartSeries, holiday bool) {
	now := s.clock.Now()
	var bars []model.PriceBar
	if cs != nil {
		bars = cs.Bars
		v.Series = cs
	}

	points := model.PointsFromBars(bars)
	if s.events != nil && len(points) > 0 {
		events, err := s.events.GetEventsByTicker(ctx, v.Ticker)
		if err != nil {
			s.logger.Debug("events unavailable", "ticker", v.Ticker, "error", err)
		}
		points = catalyst.Attach(points, events, now, s.schedule.Location)
	}
	v.Points = points

	v.Classification = market.ClassifySession(now, bars, s.schedule, holiday)
	v.Period = chart.CurrentPeriod(v.Classification)

	v.Layout = s.layout
	if v.Mini {
		v.Layout = s.miniLayout
	}
	byTime := v.Granularity == model.GranularityIntraday
	v.Screen = v.Layout.Project(points, v.Classification.Context, byTime)

	path := spline.BuildPath(chart.SplitBySession(points, v.Screen), spline.TensionFor(len(points), s.threshold))
	v.Path = path.D
	v.Segments = make([]Segment, len(path.Segments))
	for i, seg := range path.Segments {
		v.Segments[i] = Segment{Session: seg.Session, D: seg.D, Opacity: chart.Opacity(seg.Session)}
	}

	if byTime {
		b := v.Layout.SessionBoundaries(v.Classification.Context)
		v.Boundaries = &b
	}
}

// Candles returns the stored 5-minute candles plus the forming one
func (s *Service) Candles(ctx context.Context, ticker string) ([]model.PriceBar, error) {
	if s.candles == nil {
		return nil, ErrCandlesUnavailable
	}
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("%w: ticker is required", ErrInvalidRequest)
	}
	return s.candles.Aggregate5MinCandles(ctx, ticker)
}

// Status computes the wall-clock market status
func (s *Service) Status(ctx context.Context) market.MarketStatus {
	holiday := market.IsTodayHoliday(ctx, s.holidays, s.clock, s.logger)
	return market.GetMarketStatus(s.clock.Now(), s.schedule, holiday)
}

// Schedule returns the exchange schedule in use
func (s *Service) Schedule() market.Schedule { return s.schedule }
