package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"chartcore/internal/clock"
	"chartcore/pkg/model"
)

type stubProvider struct {
	name      string
	available bool
	bars      []model.PriceBar
	err       error
	calls     int
	quote     *model.Quote
	close     float64
	events    []model.CatalystEvent
}

func (s *stubProvider) Name() string      { return s.name }
func (s *stubProvider) IsAvailable() bool { return s.available }
func (s *stubProvider) RateLimit() int    { return 60 }

func (s *stubProvider) GetHistoricalPrices(ctx context.Context, ticker string, g model.Granularity, days int) (*model.HistoryResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &model.HistoryResult{Prices: s.bars, Symbol: ticker, Timeframe: g, Source: model.SourceAPI}, nil
}

func (s *stubProvider) GetQuote(ctx context.Context, ticker string) (*model.Quote, error) {
	if s.quote == nil {
		return nil, s.err
	}
	return s.quote, nil
}

func (s *stubProvider) GetMarketClosePrice(ctx context.Context, ticker string) (float64, bool, error) {
	return s.close, s.close > 0, s.err
}

func (s *stubProvider) GetEventsByTicker(ctx context.Context, ticker string) ([]model.CatalystEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

// fastRetries shrinks the retry delay for the duration of a test
func fastRetries(t *testing.T) {
	t.Helper()
	prev := retryDelay
	retryDelay = time.Millisecond
	t.Cleanup(func() { retryDelay = prev })
}

func bar(t time.Time, price float64) model.PriceBar {
	return model.PriceBar{Time: t, Open: price, High: price, Low: price, Close: price, Volume: 100}
}

func TestFallbackProvider(t *testing.T) {
	now := time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)
	failing := &stubProvider{name: "a", available: true, err: &ProviderError{Provider: "a", Err: errors.New("boom"), Retryable: true}}
	empty := &stubProvider{name: "b", available: true}
	good := &stubProvider{name: "c", available: true, bars: []model.PriceBar{bar(now, 10)}}
	offline := &stubProvider{name: "d", available: false, bars: []model.PriceBar{bar(now, 99)}}

	fb := NewFallbackProvider(offline, failing, empty, good)
	if len(fb.Providers()) != 3 {
		t.Fatalf("expected unavailable provider to be filtered, got %d providers", len(fb.Providers()))
	}

	res, err := fb.GetHistoricalPrices(context.Background(), "AAPL", model.GranularityDaily, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Prices[0].Close != 10 {
		t.Errorf("expected bars from provider c, got close %v", res.Prices[0].Close)
	}
	if offline.calls != 0 {
		t.Error("unavailable provider should never be called")
	}
}

func TestFallbackProviderAllFail(t *testing.T) {
	fb := NewFallbackProvider(&stubProvider{name: "a", available: true})
	_, err := fb.GetHistoricalPrices(context.Background(), "AAPL", model.GranularityDaily, 30)
	if !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}

	if _, err := NewFallbackProvider().GetHistoricalPrices(context.Background(), "AAPL", model.GranularityDaily, 30); err == nil {
		t.Error("expected error with no providers")
	}
}

func TestFallbackQuoteAndClose(t *testing.T) {
	a := &stubProvider{name: "a", available: true, err: errors.New("down")}
	b := &stubProvider{name: "b", available: true, quote: &model.Quote{Symbol: "AAPL", CurrentPrice: 101}, close: 100.5}
	fb := NewFallbackProvider(a, b)

	q, err := fb.GetQuote(context.Background(), "AAPL")
	if err != nil || q.CurrentPrice != 101 {
		t.Errorf("GetQuote = %v, %v", q, err)
	}
	price, ok, err := fb.GetMarketClosePrice(context.Background(), "AAPL")
	if err != nil || !ok || price != 100.5 {
		t.Errorf("GetMarketClosePrice = %v, %v, %v", price, ok, err)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&ProviderError{Provider: "x", Err: errors.New("429"), Retryable: true}) {
		t.Error("retryable provider error not detected")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain error should not be retryable")
	}
}

func TestCachingProviderTTL(t *testing.T) {
	now := time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)
	current := now
	clk := clock.Func(func() time.Time { return current })

	inner := &stubProvider{name: "inner", available: true, bars: []model.PriceBar{bar(now, 10)}}
	cp := NewCachingProvider(inner, time.Minute, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cp.GetHistoricalPrices(ctx, "aapl", model.Granularity5Min, 5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 inner call within TTL, got %d", inner.calls)
	}

	// Different key
	if _, err := cp.GetHistoricalPrices(ctx, "AAPL", model.GranularityDaily, 5); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Errorf("expected a fetch for a new granularity, got %d calls", inner.calls)
	}

	current = now.Add(2 * time.Minute)
	if _, err := cp.GetHistoricalPrices(ctx, "AAPL", model.Granularity5Min, 5); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 3 {
		t.Errorf("expected refetch after TTL expiry, got %d calls", inner.calls)
	}
}

func TestCachingProviderPurge(t *testing.T) {
	now := time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)
	inner := &stubProvider{name: "inner", available: true, bars: []model.PriceBar{bar(now, 10)}}
	cp := NewCachingProvider(inner, time.Hour, clock.Fixed(now))
	ctx := context.Background()

	if _, err := cp.GetHistoricalPrices(ctx, "AAPL", model.GranularityDaily, 5); err != nil {
		t.Fatal(err)
	}
	cp.Purge()
	if _, err := cp.GetHistoricalPrices(ctx, "AAPL", model.GranularityDaily, 5); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Errorf("expected a refetch after Purge, got %d calls", inner.calls)
	}
}

func TestCachingProviderReturnsCopies(t *testing.T) {
	now := time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)
	inner := &stubProvider{name: "inner", available: true, bars: []model.PriceBar{bar(now, 10)}}
	cp := NewCachingProvider(inner, time.Hour, clock.Fixed(now))

	first, _ := cp.GetHistoricalPrices(context.Background(), "AAPL", model.GranularityDaily, 5)
	first.Prices[0].Close = 999

	second, _ := cp.GetHistoricalPrices(context.Background(), "AAPL", model.GranularityDaily, 5)
	if second.Prices[0].Close != 10 {
		t.Errorf("cached bars were mutated through a returned result: %v", second.Prices[0].Close)
	}
}

func TestResample(t *testing.T) {
	et, _ := time.LoadLocation("America/New_York")
	base := time.Date(2026, 10, 14, 9, 30, 0, 0, et)
	bars := []model.PriceBar{
		{Time: base.Add(5 * time.Minute), Open: 11, High: 13, Low: 10, Close: 12, Volume: 200},
		{Time: base, Open: 10, High: 11, Low: 9, Close: 11, Volume: 100},
		{Time: base.Add(10 * time.Minute), Open: 12, High: 12, Low: 12, Close: 12, Volume: 50},
	}

	got := Resample(bars, model.Granularity10Min, et)
	if len(got) != 2 {
		t.Fatalf("expected 2 ten-minute buckets, got %d", len(got))
	}
	first := got[0]
	if !first.Time.Equal(base) || first.Open != 10 || first.High != 13 || first.Low != 9 || first.Close != 12 || first.Volume != 300 {
		t.Errorf("unexpected first bucket: %+v", first)
	}

	daily := Resample(bars, model.GranularityDaily, et)
	if len(daily) != 1 || daily[0].Volume != 350 {
		t.Errorf("expected one daily bucket with volume 350, got %+v", daily)
	}
	if want := time.Date(2026, 10, 14, 0, 0, 0, 0, et); !daily[0].Time.Equal(want) {
		t.Errorf("daily bucket time = %v, want %v", daily[0].Time, want)
	}

	if Resample(nil, model.GranularityDaily, et) != nil {
		t.Error("expected nil for empty input")
	}
}

func TestMultiEventsProvider(t *testing.T) {
	a := &stubProvider{events: []model.CatalystEvent{{ID: "1", Title: "one"}, {ID: "2", Title: "two"}}}
	b := &stubProvider{err: errors.New("down")}
	c := &stubProvider{events: []model.CatalystEvent{{ID: "2", Title: "dup"}, {ID: "3", Title: "three"}}}

	events, err := MultiEventsProvider{a, b, c}.GetEventsByTicker(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("expected 3 distinct events, got %d", len(events))
	}

	if _, err := (MultiEventsProvider{b}).GetEventsByTicker(context.Background(), "AAPL"); err == nil {
		t.Error("expected error when every source fails")
	}
}
