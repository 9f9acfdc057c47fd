package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chartcore/internal/candles"
	"chartcore/internal/chart"
	"chartcore/internal/clock"
	"chartcore/internal/config"
	"chartcore/internal/logging"
	"chartcore/internal/market"
	"chartcore/internal/provider"
	"chartcore/internal/series"
	"chartcore/internal/service"
	"chartcore/internal/store"
)

// app holds everything a subcommand needs
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	schedule  market.Schedule
	clock     clock.Clock
	history   *provider.FallbackProvider
	cached    *provider.CachingProvider
	events    provider.EventsProvider
	holidays  market.HolidayLookup
	db        *store.SQLiteStore
	snapshots *store.SnapshotStore
	service   *service.Service

	closers []io.Closer
}

func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	schedule, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   slog.Default(),
		schedule: schedule,
		clock:    clock.System{},
		closers:  []io.Closer{logCloser},
	}

	if cfg.Storage.SQLitePath != "" {
		db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath, a.clock, schedule.Location)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening store: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, db)
	}
	if cfg.Storage.SnapshotDir != "" {
		a.snapshots = store.NewSnapshotStore(cfg.Storage.SnapshotDir)
	}

	providers, events := a.createProviders()
	a.history = provider.NewFallbackProvider(providers...)
	if !a.history.IsAvailable() {
		a.Close()
		return nil, errors.New("no available data providers")
	}
	a.cached = provider.NewCachingProvider(a.history, cfg.Chart.CacheTTL, a.clock)
	a.events = events
	a.holidays = a.createHolidays()

	names := make([]string, 0, len(a.history.Providers()))
	for _, p := range a.history.Providers() {
		names = append(names, p.Name())
	}
	a.logger.Debug("providers ready", "providers", names)

	a.service = a.newService()
	return a, nil
}

// createProviders returns price providers in fallback order and the merged
// event sources.
func (a *app) createProviders() ([]provider.PriceHistoryProvider, provider.EventsProvider) {
	cfg := a.cfg
	loc := a.schedule.Location

	var (
		providers []provider.PriceHistoryProvider
		events    provider.MultiEventsProvider
	)

	// Finnhub (primary)
	if cfg.API.Finnhub.Key != "" {
		fh := provider.NewFinnhubProvider(cfg.API.Finnhub.Key, cfg.API.Finnhub.RateLimit, a.clock, loc)
		providers = append(providers, fh)
		events = append(events, fh)
	}

	// Alpaca (secondary, SIP/IEX bars)
	if cfg.API.Alpaca.Key != "" {
		ap := provider.NewAlpacaProvider(cfg.API.Alpaca.Key, cfg.API.Alpaca.Secret, cfg.API.Alpaca.DataURL, cfg.API.Alpaca.Feed, cfg.API.Alpaca.RateLimit, a.clock)
		providers = append(providers, ap)
		events = append(events, ap)
	}

	// Yahoo (keyless fallback)
	if cfg.API.Yahoo.Enabled {
		providers = append(providers, provider.NewYahooProvider(a.clock, loc))
	}

	// Local store last: whatever was recorded is better than nothing
	if a.db != nil {
		providers = append(providers, a.db)
		events = append(events, a.db)
	}

	return providers, events
}

func (a *app) createHolidays() market.HolidayLookup {
	alp := a.cfg.API.Alpaca
	if a.cfg.Market.UseCalendar && alp.Key != "" {
		return market.NewAlpacaCalendar(alp.Key, alp.Secret, alp.BaseURL)
	}
	return market.NewStaticHolidays(a.schedule.Location)
}

func (a *app) newService() *service.Service {
	cfg := a.cfg

	var snapshots series.SnapshotStore
	if a.snapshots != nil {
		snapshots = a.snapshots
	}

	loader := series.NewLoader(series.LoaderOptions{
		History:  a.cached,
		Schedule: a.schedule,
		Planner: series.Planner{
			IntradayLookbackDays: cfg.Chart.IntradayLookbackDays,
			MiniLookbackDays:     cfg.Chart.MiniLookbackDays,
			TenMinuteMaxDays:     cfg.Chart.TenMinuteMaxDays,
			Location:             a.schedule.Location,
		},
		Clock:              a.clock,
		Timeout:            cfg.Chart.LoadTimeout,
		VolumeBackfillDays: cfg.Chart.VolumeBackfillDays,
		Logger:             a.logger,
	})

	opts := service.Options{
		Loader:          loader,
		Snapshots:       snapshots,
		Quotes:          a.history,
		Closes:          a.cached,
		Events:          a.events,
		Holidays:        a.holidays,
		Schedule:        a.schedule,
		Clock:           a.clock,
		Layout:          chart.Layout{Width: cfg.Chart.Width, Height: cfg.Chart.Height, PadTop: 12, PadBottom: 12},
		SparseThreshold: cfg.Chart.SparseThreshold,
		Logger:          a.logger,
	}
	if a.db != nil {
		opts.Candles = candles.NewAggregator(a.db, a.clock, a.logger)
	}
	return service.New(opts)
}

// Close releases the store and the log file
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}
}

// signalContext is cancelled on SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
