package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chartcore/internal/clock"
	"chartcore/pkg/model"
)

type cacheKey struct {
	ticker string
	g      model.Granularity
	days   int
}

type cacheEntry struct {
	result   *model.HistoryResult
	storedAt time.Time
}

// CachingProvider wraps a PriceHistoryProvider with an in-memory TTL cache
// keyed by ticker, granularity and lookback. Quotes and close prices are
// passed through untouched.
type CachingProvider struct {
	inner PriceHistoryProvider
	ttl   time.Duration
	clock clock.Clock

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

// NewCachingProvider creates a caching wrapper. A ttl of zero disables caching.
func NewCachingProvider(inner PriceHistoryProvider, ttl time.Duration, clk clock.Clock) *CachingProvider {
	return &CachingProvider{
		inner: inner,
		ttl:   ttl,
		clock: clock.OrSystem(clk),
		cache: make(map[cacheKey]cacheEntry),
	}
}

func (p *CachingProvider) Name() string      { return p.inner.Name() }
func (p *CachingProvider) IsAvailable() bool { return p.inner.IsAvailable() }
func (p *CachingProvider) RateLimit() int    { return p.inner.RateLimit() }

// GetHistoricalPrices serves from cache while the entry is younger than the TTL
func (p *CachingProvider) GetHistoricalPrices(ctx context.Context, ticker string, g model.Granularity, days int) (*model.HistoryResult, error) {
	key := cacheKey{ticker: strings.ToUpper(ticker), g: g, days: days}
	now := p.clock.Now()

	if p.ttl > 0 {
		p.mu.Lock()
		entry, ok := p.cache[key]
		p.mu.Unlock()
		if ok && now.Sub(entry.storedAt) < p.ttl {
			return copyResult(entry.result), nil
		}
	}

	res, err := p.inner.GetHistoricalPrices(ctx, ticker, g, days)
	if err != nil {
		return nil, err
	}

	if p.ttl > 0 {
		p.mu.Lock()
		p.cache[key] = cacheEntry{result: copyResult(res), storedAt: now}
		p.mu.Unlock()
	}
	return res, nil
}

func (p *CachingProvider) GetQuote(ctx context.Context, ticker string) (*model.Quote, error) {
	qp, ok := p.inner.(QuoteProvider)
	if !ok {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("quotes not supported")}
	}
	return qp.GetQuote(ctx, ticker)
}

func (p *CachingProvider) GetMarketClosePrice(ctx context.Context, ticker string) (float64, bool, error) {
	cp, ok := p.inner.(MarketClosePriceProvider)
	if !ok {
		return 0, false, nil
	}
	return cp.GetMarketClosePrice(ctx, ticker)
}

// Purge drops every cached entry
func (p *CachingProvider) Purge() {
	p.mu.Lock()
	p.cache = make(map[cacheKey]cacheEntry)
	p.mu.Unlock()
}

func copyResult(r *model.HistoryResult) *model.HistoryResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Prices = append([]model.PriceBar(nil), r.Prices...)
	return &out
}
