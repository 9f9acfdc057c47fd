package main

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chartcore/internal/service"
	"chartcore/pkg/model"
)

func newWarmCmd() *cobra.Command {
	var (
		tickerList string
		rangeList  string
		workers    int
		record     bool
	)
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Prefetch charts so last-good snapshots exist for every ticker and range",
		RunE: func(cmd *cobra.Command, args []string) error {
			tickers := splitList(tickerList)
			if len(tickers) == 0 {
				return fmt.Errorf("--tickers is required")
			}
			var ranges []model.TimeRange
			for _, s := range splitList(rangeList) {
				r, err := model.ParseTimeRange(s)
				if err != nil {
					return err
				}
				ranges = append(ranges, r)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if a.snapshots == nil {
				a.logger.Warn("storage.snapshot_dir is empty; warmed charts will not survive a restart")
			}

			ctx, cancel := signalContext()
			defer cancel()

			return warm(ctx, a, tickers, ranges, workers, record)
		},
	}
	cmd.Flags().StringVar(&tickerList, "tickers", "", "comma-separated tickers")
	cmd.Flags().StringVar(&rangeList, "ranges", "1D,1W,1M,3M,YTD,1Y,5Y", "comma-separated ranges")
	cmd.Flags().IntVar(&workers, "workers", 4, "number of parallel workers")
	cmd.Flags().BoolVar(&record, "record", true, "also store today's 5-minute candles and events in the local database")
	return cmd
}

func warm(ctx context.Context, a *app, tickers []string, ranges []model.TimeRange, workers int, record bool) error {
	total := len(tickers) * len(ranges)
	fmt.Printf("Warming %d charts (%d tickers x %d ranges)...\n\n", total, len(tickers), len(ranges))

	bar := progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Warming"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	var failed atomic.Int32
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, ticker := range tickers {
		for _, r := range ranges {
			g.Go(func() error {
				defer bar.Add(1)
				// One view per chart so parallel loads never supersede each other
				view, err := a.service.Build(gctx, service.Request{
					Ticker: ticker,
					Range:  r,
					View:   fmt.Sprintf("warm:%s:%s", ticker, r),
				})
				if err != nil {
					return err
				}
				if view.Error != "" || view.Stale {
					failed.Add(1)
					a.logger.Warn("warm failed", "ticker", ticker, "range", r, "error", view.Error)
				}
				return nil
			})
		}
		if record && a.db != nil {
			g.Go(func() error {
				if err := recordTicker(gctx, a, ticker); err != nil {
					a.logger.Warn("recording failed", "ticker", ticker, "error", err)
				}
				return nil
			})
		}
	}

	err := g.Wait()
	bar.Finish()
	fmt.Println()
	if err != nil {
		return err
	}

	fmt.Printf("Warmed %d/%d charts in %s\n", total-int(failed.Load()), total, time.Since(start).Round(time.Second))
	return nil
}

// recordTicker stores the latest day of 5-minute bars and the ticker's events
func recordTicker(ctx context.Context, a *app, ticker string) error {
	res, err := a.history.GetHistoricalPrices(ctx, ticker, model.Granularity5Min, 1)
	if err != nil {
		return fmt.Errorf("5min bars: %w", err)
	}
	if res.Source != model.SourceDatabase {
		if err := a.db.Upsert5MinCandles(ctx, ticker, res.Prices); err != nil {
			return fmt.Errorf("storing candles: %w", err)
		}
	}

	if a.events == nil {
		return nil
	}
	events, err := a.events.GetEventsByTicker(ctx, ticker)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	return a.db.UpsertEvents(ctx, events)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}
