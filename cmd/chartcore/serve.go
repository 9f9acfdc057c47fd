package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chartcore/internal/candles"
	"chartcore/internal/market"
	"chartcore/internal/web"
)

func newServeCmd() *cobra.Command {
	var (
		addr      string
		trackList string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chart API and viewer",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			tracked := splitList(trackList)

			ctx, cancel := signalContext()
			defer cancel()

			watcher := market.NewWatcher(market.WatcherOptions{
				Schedule: a.schedule,
				Clock:    a.clock,
				Holidays: a.holidays,
				Closes:   a.cached,
				Ticker:   firstOrEmpty(tracked),
				Interval: a.cfg.Chart.PollInterval,
				Logger:   a.logger,
			})
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer watcher.Stop()

			_, statusCh := watcher.Subscribe(4)
			go func() {
				var last string
				for st := range statusCh {
					if st.Reason != last {
						a.logger.Info("market status changed", "session", st.Session, "reason", st.Reason)
						// Bars cached before the transition carry the old session's tail
						if last != "" {
							a.cached.Purge()
						}
						last = st.Reason
					}
				}
			}()

			if len(tracked) > 0 && a.db != nil {
				rec := candles.NewRecorder(candles.RecorderOptions{
					Quotes:   a.history,
					Store:    a.db,
					Schedule: a.schedule,
					Holidays: a.holidays,
					Clock:    a.clock,
					Tickers:  tracked,
					Logger:   a.logger,
				})
				if err := rec.Start(ctx); err != nil {
					return err
				}
				defer rec.Stop()
			}

			srv := web.NewServer(a.service, watcher, a.logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			fmt.Println("\nShutting down...")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&trackList, "track", "", "comma-separated tickers to record ticks for; the first also gets close-price refreshes")
	return cmd
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
