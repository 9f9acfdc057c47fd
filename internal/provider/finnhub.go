package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"chartcore/internal/clock"
	"chartcore/internal/ratelimit"
	"chartcore/pkg/model"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

var finnhubLimits = map[model.Granularity]int{
	model.GranularityIntraday: 7,
	model.Granularity5Min:     59,
	model.Granularity10Min:    59,
}

// FinnhubProvider implements the provider interfaces for the Finnhub API
type FinnhubProvider struct {
	apiKey    string
	client    *http.Client
	limiter   *ratelimit.Limiter
	rateLimit int
	baseURL   string
	clock     clock.Clock
	loc       *time.Location
}

// NewFinnhubProvider creates a new Finnhub provider
func NewFinnhubProvider(apiKey string, rateLimitPerMin int, clk clock.Clock, loc *time.Location) *FinnhubProvider {
	if loc == nil {
		loc = time.UTC
	}
	return &FinnhubProvider{
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   ratelimit.NewLimiter("finnhub", rateLimitPerMin),
		rateLimit: rateLimitPerMin,
		baseURL:   finnhubBaseURL,
		clock:     clock.OrSystem(clk),
		loc:       loc,
	}
}

// Name returns the provider name
func (p *FinnhubProvider) Name() string {
	return "finnhub"
}

// IsAvailable checks if the provider has an API key
func (p *FinnhubProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// RateLimit returns the rate limit per minute
func (p *FinnhubProvider) RateLimit() int {
	return p.rateLimit
}

// finnhubCandle represents the Finnhub candle response
type finnhubCandle struct {
	C []float64 `json:"c"` // Close prices
	H []float64 `json:"h"` // High prices
	L []float64 `json:"l"` // Low prices
	O []float64 `json:"o"` // Open prices
	S string    `json:"s"` // Status
	T []int64   `json:"t"` // Timestamps
	V []int64   `json:"v"` // Volumes
}

type finnhubQuote struct {
	C  float64 `json:"c"`  // Current price
	D  float64 `json:"d"`  // Change
	DP float64 `json:"dp"` // Percent change
	PC float64 `json:"pc"` // Previous close
	T  int64   `json:"t"`
}

type finnhubEarnings struct {
	EarningsCalendar []struct {
		Date        string   `json:"date"`
		Hour        string   `json:"hour"` // bmo, amc, dmh
		Symbol      string   `json:"symbol"`
		EPSEstimate *float64 `json:"epsEstimate"`
		Quarter     int      `json:"quarter"`
		Year        int      `json:"year"`
	} `json:"earningsCalendar"`
}

func finnhubResolution(g model.Granularity) string {
	switch g {
	case model.GranularityIntraday:
		return "1"
	case model.Granularity5Min, model.Granularity10Min:
		return "5"
	case model.GranularityHourly:
		return "60"
	default:
		return "D"
	}
}

func (p *FinnhubProvider) endpoint(path string, q url.Values) string {
	q.Set("token", p.apiKey)
	return fmt.Sprintf("%s%s?%s", p.baseURL, path, q.Encode())
}

// GetHistoricalPrices fetches candles for the lookback window
func (p *FinnhubProvider) GetHistoricalPrices(ctx context.Context, ticker string, g model.Granularity, days int) (*model.HistoryResult, error) {
	symbol := strings.ToUpper(ticker)
	from, to := fetchWindow(p.clock.Now(), g, days, finnhubLimits)

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", finnhubResolution(g))
	q.Set("from", fmt.Sprintf("%d", from.Unix()))
	q.Set("to", fmt.Sprintf("%d", to.Unix()))

	var data finnhubCandle
	if err := getJSON(ctx, p.client, p.limiter, p.Name(), p.endpoint("/stock/candle", q), &data); err != nil {
		return nil, err
	}
	if data.S != "ok" {
		return nil, &ProviderError{Provider: p.Name(), Err: ErrNoData, Retryable: false}
	}

	bars := make([]model.PriceBar, 0, len(data.T))
	for i := range data.T {
		if i >= len(data.O) || i >= len(data.H) || i >= len(data.L) || i >= len(data.C) {
			continue
		}
		var volume int64
		if i < len(data.V) {
			volume = data.V[i]
		}
		ts := time.Unix(data.T[i], 0).UTC()
		if g == model.GranularityDaily {
			// Daily candles are stamped 00:00 UTC of the trading date
			ts = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, p.loc)
		}
		bars = append(bars, model.PriceBar{
			Time:   ts,
			Open:   data.O[i],
			High:   data.H[i],
			Low:    data.L[i],
			Close:  data.C[i],
			Volume: volume,
		})
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Time.Before(bars[j].Time)
	})
	if g == model.Granularity10Min {
		bars = Resample(bars, g, p.loc)
	}
	if len(bars) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Err: ErrNoData, Retryable: false}
	}

	return &model.HistoryResult{
		Prices:    bars,
		Source:    model.SourceAPI,
		Symbol:    symbol,
		Timeframe: g,
		From:      from,
		To:        to,
	}, nil
}

// GetQuote fetches the real-time quote
func (p *FinnhubProvider) GetQuote(ctx context.Context, ticker string) (*model.Quote, error) {
	symbol := strings.ToUpper(ticker)
	q := url.Values{}
	q.Set("symbol", symbol)

	var data finnhubQuote
	if err := getJSON(ctx, p.client, p.limiter, p.Name(), p.endpoint("/quote", q), &data); err != nil {
		return nil, err
	}
	// Finnhub answers unknown symbols with all zeros
	if !model.ValidPrice(data.C) {
		return nil, &ProviderError{Provider: p.Name(), Err: ErrNoData, Retryable: false}
	}

	return &model.Quote{
		Symbol:             symbol,
		CurrentPrice:       data.C,
		PriceChange:        data.D,
		PriceChangePercent: data.DP,
		PreviousClose:      data.PC,
		Time:               time.Unix(data.T, 0).UTC(),
	}, nil
}

// GetEventsByTicker returns earnings releases from 90 days back to 90 days ahead
func (p *FinnhubProvider) GetEventsByTicker(ctx context.Context, ticker string) ([]model.CatalystEvent, error) {
	symbol := strings.ToUpper(ticker)
	now := p.clock.Now().In(p.loc)

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("from", now.AddDate(0, 0, -90).Format("2006-01-02"))
	q.Set("to", now.AddDate(0, 0, 90).Format("2006-01-02"))

	var data finnhubEarnings
	if err := getJSON(ctx, p.client, p.limiter, p.Name(), p.endpoint("/calendar/earnings", q), &data); err != nil {
		return nil, err
	}

	events := make([]model.CatalystEvent, 0, len(data.EarningsCalendar))
	for _, e := range data.EarningsCalendar {
		day, err := time.ParseInLocation("2006-01-02", e.Date, p.loc)
		if err != nil {
			continue
		}
		at := earningsTime(day, e.Hour)
		events = append(events, model.CatalystEvent{
			ID:             fmt.Sprintf("finnhub-earnings-%s-%s", symbol, e.Date),
			Ticker:         symbol,
			Type:           "earnings",
			ActualDateTime: &at,
			Title:          fmt.Sprintf("%s Q%d %d earnings", symbol, e.Quarter, e.Year),
			ImpactRating:   3,
		})
	}
	return events, nil
}

// earningsTime maps Finnhub's release hour code onto a clock time
func earningsTime(day time.Time, hour string) time.Time {
	h, m := 12, 0
	switch hour {
	case "bmo":
		h, m = 8, 0
	case "amc":
		h, m = 16, 5
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}
