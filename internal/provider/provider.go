package provider

import (
	"context"
	"errors"
	"fmt"

	"chartcore/pkg/model"
)

// PriceHistoryProvider defines the interface for price history sources
type PriceHistoryProvider interface {
	// Name returns the provider name
	Name() string

	// GetHistoricalPrices fetches bars of the given granularity covering the last
	// days calendar days. For intraday granularity days is a search window: the
	// provider returns whatever it has inside it, clamped to what its API serves.
	GetHistoricalPrices(ctx context.Context, ticker string, g model.Granularity, days int) (*model.HistoryResult, error)

	// IsAvailable checks if the provider is usable (credentials present)
	IsAvailable() bool

	// RateLimit returns the rate limit per minute
	RateLimit() int
}

// QuoteProvider supplies live quotes
type QuoteProvider interface {
	GetQuote(ctx context.Context, ticker string) (*model.Quote, error)
}

// MarketClosePriceProvider supplies the last regular-session close. ok is
// false when the provider has no close for the ticker.
type MarketClosePriceProvider interface {
	GetMarketClosePrice(ctx context.Context, ticker string) (price float64, ok bool, err error)
}

// EventsProvider supplies catalyst events
type EventsProvider interface {
	GetEventsByTicker(ctx context.Context, ticker string) ([]model.CatalystEvent, error)
}

// ErrNoData is returned when a provider answered but had nothing for the request
var ErrNoData = errors.New("no data available")

// ProviderError represents a provider-specific error
type ProviderError struct {
	Provider  string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth retrying
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// FallbackProvider tries multiple providers in order
type FallbackProvider struct {
	providers []PriceHistoryProvider
}

// NewFallbackProvider creates a new fallback provider
func NewFallbackProvider(providers ...PriceHistoryProvider) *FallbackProvider {
	// Filter to only available providers
	available := make([]PriceHistoryProvider, 0, len(providers))
	for _, p := range providers {
		if p != nil && p.IsAvailable() {
			available = append(available, p)
		}
	}
	return &FallbackProvider{providers: available}
}

// Name returns the combined provider name
func (f *FallbackProvider) Name() string {
	return "fallback"
}

// GetHistoricalPrices tries each provider in order until one returns bars
func (f *FallbackProvider) GetHistoricalPrices(ctx context.Context, ticker string, g model.Granularity, days int) (*model.HistoryResult, error) {
	if len(f.providers) == 0 {
		return nil, fmt.Errorf("no available data providers")
	}

	var lastErr error
	for _, p := range f.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := p.GetHistoricalPrices(ctx, ticker, g, days)
		if err == nil && res != nil && len(res.Prices) > 0 {
			return res, nil
		}
		if err == nil {
			err = &ProviderError{Provider: p.Name(), Err: ErrNoData}
		}
		lastErr = err
	}
	return nil, lastErr
}

// GetQuote asks each provider that can quote
func (f *FallbackProvider) GetQuote(ctx context.Context, ticker string) (*model.Quote, error) {
	lastErr := fmt.Errorf("no quote provider available")
	for _, p := range f.providers {
		qp, ok := p.(QuoteProvider)
		if !ok {
			continue
		}
		q, err := qp.GetQuote(ctx, ticker)
		if err == nil {
			return q, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// GetMarketClosePrice asks each provider that knows the close price
func (f *FallbackProvider) GetMarketClosePrice(ctx context.Context, ticker string) (float64, bool, error) {
	var lastErr error
	for _, p := range f.providers {
		cp, ok := p.(MarketClosePriceProvider)
		if !ok {
			continue
		}
		price, found, err := cp.GetMarketClosePrice(ctx, ticker)
		if err == nil && found {
			return price, true, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	return 0, false, lastErr
}

// IsAvailable returns true if any provider is available
func (f *FallbackProvider) IsAvailable() bool {
	return len(f.providers) > 0
}

// RateLimit returns the highest rate limit among providers
func (f *FallbackProvider) RateLimit() int {
	maxRate := 0
	for _, p := range f.providers {
		if p.RateLimit() > maxRate {
			maxRate = p.RateLimit()
		}
	}
	return maxRate
}

// Providers returns the list of underlying providers
func (f *FallbackProvider) Providers() []PriceHistoryProvider {
	return f.providers
}

// MultiEventsProvider merges events from several sources. A failing source is
// skipped as long as another one answers.
type MultiEventsProvider []EventsProvider

// GetEventsByTicker concatenates every source's events, dropping duplicate IDs
func (m MultiEventsProvider) GetEventsByTicker(ctx context.Context, ticker string) ([]model.CatalystEvent, error) {
	var (
		out     []model.CatalystEvent
		lastErr error
		ok      bool
	)
	seen := make(map[string]bool)
	for _, src := range m {
		events, err := src.GetEventsByTicker(ctx, ticker)
		if err != nil {
			lastErr = err
			continue
		}
		ok = true
		for _, e := range events {
			if e.ID != "" && seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	if !ok && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}
