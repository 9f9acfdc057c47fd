// Package candles combines stored 5-minute candles with the live forming candle.
package candles

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"chartcore/internal/clock"
	"chartcore/pkg/model"
)

// BucketWidth is the candle interval
const BucketWidth = 5 * time.Minute

// CandleSource supplies precomputed candles and raw ticks
type CandleSource interface {
	FiveMinuteCandles(ctx context.Context, ticker string) ([]model.PriceBar, error)
	IntradayTicks(ctx context.Context, ticker string, from, to time.Time) ([]model.PriceBar, error)
}

// Aggregator builds the 5-minute candle list for a ticker
type Aggregator struct {
	source CandleSource
	clock  clock.Clock
	logger *slog.Logger
}

// NewAggregator creates an aggregator
func NewAggregator(source CandleSource, clk clock.Clock, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		source: source,
		clock:  clock.OrSystem(clk),
		logger: logger.With("component", "candles"),
	}
}

// CurrentBucket returns the start of the 5-minute bucket containing now
func CurrentBucket(now time.Time) time.Time {
	return now.Truncate(BucketWidth)
}

// Aggregate5MinCandles returns completed candles followed by the forming
// candle, if any ticks fell in the current bucket. Both fetches run
// concurrently and both must succeed.
func (a *Aggregator) Aggregate5MinCandles(ctx context.Context, ticker string) ([]model.PriceBar, error) {
	ticker = strings.ToUpper(ticker)
	bucket := CurrentBucket(a.clock.Now())
	bucketEnd := bucket.Add(BucketWidth)

	var candles, ticks []model.PriceBar
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		candles, err = a.source.FiveMinuteCandles(gctx, ticker)
		if err != nil {
			return fmt.Errorf("fetching 5m candles: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		ticks, err = a.source.IntradayTicks(gctx, ticker, bucket, bucketEnd)
		if err != nil {
			return fmt.Errorf("fetching ticks: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	completed := make([]model.PriceBar, 0, len(candles)+1)
	for _, c := range candles {
		if c.Time.Before(bucket) {
			completed = append(completed, c)
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].Time.Before(completed[j].Time)
	})

	if forming, ok := FormingCandle(ticks, bucket); ok {
		completed = append(completed, forming)
	}

	a.logger.Debug("aggregated candles", "ticker", ticker, "bucket", bucket, "candles", len(completed), "ticks", len(ticks))
	return completed, nil
}

// FormingCandle folds the ticks inside [bucket, bucket+5m) into one candle
// starting at bucket. ok is false when no tick falls in the bucket.
func FormingCandle(ticks []model.PriceBar, bucket time.Time) (model.PriceBar, bool) {
	end := bucket.Add(BucketWidth)

	in := make([]model.PriceBar, 0, len(ticks))
	for _, t := range ticks {
		if !t.Time.Before(bucket) && t.Time.Before(end) {
			in = append(in, t)
		}
	}
	if len(in) == 0 {
		return model.PriceBar{}, false
	}
	sort.SliceStable(in, func(i, j int) bool {
		return in[i].Time.Before(in[j].Time)
	})

	c := model.PriceBar{
		Time:  bucket,
		Open:  in[0].Open,
		High:  in[0].High,
		Low:   in[0].Low,
		Close: in[len(in)-1].Close,
	}
	for _, t := range in {
		if t.High > c.High {
			c.High = t.High
		}
		if t.Low < c.Low {
			c.Low = t.Low
		}
		c.Volume += t.Volume
	}
	return c, true
}
