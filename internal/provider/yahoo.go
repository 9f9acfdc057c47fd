package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chartcore/internal/clock"
	"chartcore/internal/ratelimit"
	"chartcore/pkg/model"
)

const yahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// Yahoo serves 1m bars for about a week, 5m for 60 days and 60m for two years
var yahooLimits = map[model.Granularity]int{
	model.GranularityIntraday: 7,
	model.Granularity5Min:     59,
	model.Granularity10Min:    59,
	model.GranularityHourly:   729,
}

// YahooProvider implements the provider interfaces for Yahoo Finance (unofficial API)
type YahooProvider struct {
	client    *http.Client
	limiter   *ratelimit.Limiter
	rateLimit int
	baseURL   string
	clock     clock.Clock
	loc       *time.Location
}

// NewYahooProvider creates a new Yahoo Finance provider
func NewYahooProvider(clk clock.Clock, loc *time.Location) *YahooProvider {
	if loc == nil {
		loc = time.UTC
	}
	return &YahooProvider{
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   ratelimit.NewLimiter("yahoo", 30), // Conservative rate limit
		rateLimit: 30,
		baseURL:   yahooBaseURL,
		clock:     clock.OrSystem(clk),
		loc:       loc,
	}
}

// Name returns the provider name
func (p *YahooProvider) Name() string {
	return "yahoo"
}

// IsAvailable always returns true (no API key needed)
func (p *YahooProvider) IsAvailable() bool {
	return true
}

// RateLimit returns the rate limit per minute
func (p *YahooProvider) RateLimit() int {
	return p.rateLimit
}

// yahooResponse represents the Yahoo Finance chart API response. Price arrays
// carry nulls for empty buckets.
type yahooResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				PreviousClose      float64 `json:"previousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func yahooInterval(g model.Granularity) string {
	switch g {
	case model.GranularityIntraday:
		return "1m"
	case model.Granularity5Min, model.Granularity10Min:
		// No native 10m bucket; 10min is resampled from 5m.
		return "5m"
	case model.GranularityHourly:
		return "60m"
	default:
		return "1d"
	}
}

func (p *YahooProvider) fetch(ctx context.Context, symbol string, from, to time.Time, interval string, prePost bool) (*yahooResponse, error) {
	q := url.Values{}
	q.Set("period1", fmt.Sprintf("%d", from.Unix()))
	q.Set("period2", fmt.Sprintf("%d", to.Unix()))
	q.Set("interval", interval)
	q.Set("includePrePost", fmt.Sprintf("%t", prePost))
	u := fmt.Sprintf("%s/%s?%s", p.baseURL, url.PathEscape(symbol), q.Encode())

	var data yahooResponse
	if err := getJSON(ctx, p.client, p.limiter, p.Name(), u, &data); err != nil {
		return nil, err
	}
	if data.Chart.Error != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%s", data.Chart.Error.Description), Retryable: false}
	}
	if len(data.Chart.Result) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Err: ErrNoData, Retryable: false}
	}
	return &data, nil
}

func (r *yahooResponse) bars() []model.PriceBar {
	result := r.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil
	}
	quotes := result.Indicators.Quote[0]

	bars := make([]model.PriceBar, 0, len(result.Timestamp))
	for i := range result.Timestamp {
		// Skip buckets with any missing price
		if i >= len(quotes.Open) || i >= len(quotes.High) || i >= len(quotes.Low) || i >= len(quotes.Close) {
			continue
		}
		if quotes.Open[i] == nil || quotes.High[i] == nil || quotes.Low[i] == nil || quotes.Close[i] == nil {
			continue
		}

		var volume int64
		if i < len(quotes.Volume) && quotes.Volume[i] != nil {
			volume = *quotes.Volume[i]
		}

		bars = append(bars, model.PriceBar{
			Time:   time.Unix(result.Timestamp[i], 0).UTC(),
			Open:   *quotes.Open[i],
			High:   *quotes.High[i],
			Low:    *quotes.Low[i],
			Close:  *quotes.Close[i],
			Volume: volume,
		})
	}
	return bars
}

// GetHistoricalPrices fetches bars. Intraday granularities include extended hours.
func (p *YahooProvider) GetHistoricalPrices(ctx context.Context, ticker string, g model.Granularity, days int) (*model.HistoryResult, error) {
	symbol := strings.ToUpper(ticker)
	from, to := fetchWindow(p.clock.Now(), g, days, yahooLimits)

	data, err := p.fetch(ctx, symbol, from, to, yahooInterval(g), g.IsIntraday())
	if err != nil {
		return nil, err
	}

	bars := data.bars()
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

// GetQuote reads the live price from today's 1m chart, extended hours included
func (p *YahooProvider) GetQuote(ctx context.Context, ticker string) (*model.Quote, error) {
	symbol := strings.ToUpper(ticker)
	now := p.clock.Now()

	data, err := p.fetch(ctx, symbol, now.AddDate(0, 0, -1), now, "1m", true)
	if err != nil {
		return nil, err
	}
	meta := data.Chart.Result[0].Meta

	price := meta.RegularMarketPrice
	at := time.Unix(meta.RegularMarketTime, 0).UTC()
	if bars := data.bars(); len(bars) > 0 {
		last := bars[len(bars)-1]
		price = last.Close
		at = last.Time
	}
	if !model.ValidPrice(price) {
		return nil, &ProviderError{Provider: p.Name(), Err: ErrNoData, Retryable: false}
	}

	prev := meta.ChartPreviousClose
	if prev == 0 {
		prev = meta.PreviousClose
	}
	q := &model.Quote{
		Symbol:        symbol,
		CurrentPrice:  price,
		PreviousClose: prev,
		Time:          at,
	}
	if prev > 0 {
		q.PriceChange = price - prev
		q.PriceChangePercent = q.PriceChange / prev * 100
	}
	return q, nil
}

// GetMarketClosePrice returns the latest regular-session daily close
func (p *YahooProvider) GetMarketClosePrice(ctx context.Context, ticker string) (float64, bool, error) {
	symbol := strings.ToUpper(ticker)
	now := p.clock.Now()

	data, err := p.fetch(ctx, symbol, now.AddDate(0, 0, -7), now, "1d", false)
	if err != nil {
		return 0, false, err
	}
	bars := data.bars()
	if len(bars) == 0 {
		return 0, false, nil
	}
	return bars[len(bars)-1].Close, true, nil
}
