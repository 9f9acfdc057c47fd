package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"chartcore/internal/market"
	"chartcore/internal/service"
	"chartcore/pkg/model"
)

func newChartCmd() *cobra.Command {
	var (
		rangeFlag string
		mini      bool
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "chart TICKER",
		Short: "Load, reconcile and lay out a chart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := model.ParseTimeRange(rangeFlag)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			view, err := a.service.Build(ctx, service.Request{Ticker: args[0], Range: r, Mini: mini})
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(view)
			}
			return outputChartTable(view, limit)
		},
	}
	cmd.Flags().StringVar(&rangeFlag, "range", "1D", "time range: 1D, 1W, 1M, 3M, YTD, 1Y, 5Y")
	cmd.Flags().BoolVar(&mini, "mini", false, "compact chart (shorter lookback)")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of trailing points to print (0 = all)")
	return cmd
}

func outputChartTable(v *service.View, limit int) error {
	loc := v.Classification.Context.Day.Location()

	fmt.Printf("%s %s (%s)  %s\n", v.Ticker, v.Range, v.Granularity, v.Period.Label)
	if v.Series != nil {
		fmt.Printf("Source: %s | Bars: %d | Loaded: %s\n", v.Series.Source, len(v.Series.Bars), v.Series.LoadedAt.Format(time.RFC3339))
	}
	if v.Live != nil {
		fmt.Printf("Live: $%.2f (%s)\n", v.Live.Price, v.Reconciled)
	}
	if v.Stale {
		fmt.Println("Showing last good data (stale)")
	}
	if v.Error != "" {
		fmt.Printf("Error: %s\n", v.Error)
	}
	if len(v.Points) == 0 {
		fmt.Println("No data.")
		return nil
	}
	fmt.Println()

	start := 0
	if limit > 0 && len(v.Points) > limit {
		start = len(v.Points) - limit
	}

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Time", "Close", "Volume", "Session", "X", "Y", "Catalyst"}),
	)
	for i := start; i < len(v.Points); i++ {
		p := v.Points[i]
		catalyst := ""
		if p.Catalyst != nil {
			catalyst = truncate(fmt.Sprintf("%s: %s", p.Catalyst.Type, p.Catalyst.Title), 40)
		}
		table.Append([]string{
			p.Time.In(loc).Format("2006-01-02 15:04"),
			fmt.Sprintf("%.2f", p.Value),
			fmt.Sprintf("%d", p.Volume),
			string(p.Session),
			fmt.Sprintf("%.1f", v.Screen[i].X),
			fmt.Sprintf("%.1f", v.Screen[i].Y),
			catalyst,
		})
	}
	table.Render()

	fmt.Printf("\nSegments: %d", len(v.Segments))
	if v.Boundaries != nil {
		fmt.Printf(" | Regular session x: %.1f - %.1f", v.Boundaries.RegularOpenX, v.Boundaries.RegularCloseX)
	}
	fmt.Println()
	return nil
}

func newSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session [TICKER]",
		Short: "Show the market status, and the session of a ticker's latest data",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			status := a.service.Status(ctx)
			out := struct {
				Status market.MarketStatus    `json:"status"`
				Chart  *market.Classification `json:"chart,omitempty"`
			}{Status: status}

			if len(args) == 1 {
				view, err := a.service.Build(ctx, service.Request{Ticker: args[0], Range: model.Range1D})
				if err != nil {
					return err
				}
				out.Chart = &view.Classification
			}

			if format == "json" {
				return writeJSON(out)
			}

			fmt.Println(status.String())
			if out.Chart != nil {
				c := out.Chart.Context
				fmt.Printf("%s chart day %s: %s (weekend=%v historical=%v holiday=%v)\n",
					strings.ToUpper(args[0]), c.Day.Format("2006-01-02"), out.Chart.Session,
					c.IsWeekend, c.IsHistorical, c.IsHoliday)
			}
			return nil
		},
	}
}

func newCandlesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "candles TICKER",
		Short: "Print today's stored 5-minute candles plus the forming one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			bars, err := a.service.Candles(ctx, args[0])
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(bars)
			}
			if len(bars) == 0 {
				fmt.Println("No candles recorded.")
				return nil
			}

			table := tablewriter.NewTable(os.Stdout,
				tablewriter.WithHeader([]string{"Bucket", "Open", "High", "Low", "Close", "Volume"}),
			)
			for _, b := range bars {
				table.Append([]string{
					b.Time.In(a.schedule.Location).Format("15:04"),
					fmt.Sprintf("%.2f", b.Open),
					fmt.Sprintf("%.2f", b.High),
					fmt.Sprintf("%.2f", b.Low),
					fmt.Sprintf("%.2f", b.Close),
					fmt.Sprintf("%d", b.Volume),
				})
			}
			table.Render()
			return nil
		},
	}
}

func writeJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
