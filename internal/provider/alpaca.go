package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"chartcore/internal/clock"
	"chartcore/internal/ratelimit"
	"chartcore/pkg/model"
)

// newsWindow is how far back GetEventsByTicker looks
const newsWindow = 30 * 24 * time.Hour

var alpacaLimits = map[model.Granularity]int{
	model.GranularityIntraday: 7,
}

// AlpacaProvider serves bars and news from the Alpaca market-data API
type AlpacaProvider struct {
	apiKey    string
	limiter   *ratelimit.Limiter
	rateLimit int
	feed      string
	clock     clock.Clock

	bars func(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	news func(req marketdata.GetNewsRequest) ([]marketdata.News, error)
}

// NewAlpacaProvider creates an Alpaca provider. dataURL may be empty for the default endpoint.
func NewAlpacaProvider(apiKey, apiSecret, dataURL, feed string, rateLimitPerMin int, clk clock.Clock) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	client := marketdata.NewClient(opts)

	if feed == "" {
		feed = "iex"
	}
	return &AlpacaProvider{
		apiKey:    apiKey,
		limiter:   ratelimit.NewLimiter("alpaca", rateLimitPerMin),
		rateLimit: rateLimitPerMin,
		feed:      feed,
		clock:     clock.OrSystem(clk),
		bars:      client.GetBars,
		news:      client.GetNews,
	}
}

// Name returns the provider name
func (p *AlpacaProvider) Name() string { return "alpaca" }

// IsAvailable checks if credentials are configured
func (p *AlpacaProvider) IsAvailable() bool { return p.apiKey != "" }

// RateLimit returns the rate limit per minute
func (p *AlpacaProvider) RateLimit() int { return p.rateLimit }

func alpacaTimeFrame(g model.Granularity) marketdata.TimeFrame {
	switch g {
	case model.GranularityIntraday:
		return marketdata.OneMin
	case model.Granularity5Min:
		return marketdata.NewTimeFrame(5, marketdata.Min)
	case model.Granularity10Min:
		return marketdata.NewTimeFrame(10, marketdata.Min)
	case model.GranularityHourly:
		return marketdata.OneHour
	default:
		return marketdata.OneDay
	}
}

// GetHistoricalPrices fetches bars, extended hours included for intraday timeframes
func (p *AlpacaProvider) GetHistoricalPrices(ctx context.Context, ticker string, g model.Granularity, days int) (*model.HistoryResult, error) {
	symbol := strings.ToUpper(ticker)
	from, to := fetchWindow(p.clock.Now(), g, days, alpacaLimits)

	var alpacaBars []marketdata.Bar
	err := withRetry(ctx, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		alpacaBars, err = p.bars(symbol, marketdata.GetBarsRequest{
			TimeFrame: alpacaTimeFrame(g),
			Start:     from,
			End:       to,
			Feed:      p.feed,
		})
		if err != nil {
			return &ProviderError{Provider: p.Name(), Err: fmt.Errorf("GetBars: %w", err), Retryable: true}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(alpacaBars) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Err: ErrNoData, Retryable: false}
	}

	bars := make([]model.PriceBar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, model.PriceBar{
			Time:   ab.Timestamp.UTC(),
			Open:   ab.Open,
			High:   ab.High,
			Low:    ab.Low,
			Close:  ab.Close,
			Volume: int64(ab.Volume),
		})
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

// GetEventsByTicker turns recent headlines into catalyst events
func (p *AlpacaProvider) GetEventsByTicker(ctx context.Context, ticker string) ([]model.CatalystEvent, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	symbol := strings.ToUpper(ticker)
	now := p.clock.Now()
	items, err := p.news(marketdata.GetNewsRequest{
		Symbols:    []string{symbol},
		Start:      now.Add(-newsWindow),
		End:        now,
		TotalLimit: 50,
		Sort:       marketdata.SortAsc,
	})
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("GetNews: %w", err), Retryable: true}
	}

	events := make([]model.CatalystEvent, 0, len(items))
	for _, n := range items {
		at := n.CreatedAt.UTC()
		events = append(events, model.CatalystEvent{
			ID:             fmt.Sprintf("alpaca-news-%d", n.ID),
			Ticker:         symbol,
			Type:           "news",
			ActualDateTime: &at,
			Title:          n.Headline,
			ImpactRating:   1,
		})
	}
	return events, nil
}
