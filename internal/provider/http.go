package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chartcore/internal/ratelimit"
	"chartcore/pkg/model"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Transient provider failures are retried this many times in total
var (
	retryAttempts = 3
	retryDelay    = 500 * time.Millisecond
)

// withRetry runs fn until it succeeds or fails with a non-retryable error
func withRetry(ctx context.Context, fn func() error) error {
	return ratelimit.Retry(ctx, retryAttempts, retryDelay, IsRetryable, fn)
}

// getJSON performs a rate-limited GET and decodes the JSON body into out.
// 429, 5xx and transport failures are retried before coming back as
// retryable ProviderErrors.
func getJSON(ctx context.Context, client *http.Client, limiter *ratelimit.Limiter, name, url string, out any) error {
	return withRetry(ctx, func() error {
		return getJSONOnce(ctx, client, limiter, name, url, out)
	})
}

func getJSONOnce(ctx context.Context, client *http.Client, limiter *ratelimit.Limiter, name, url string, out any) error {
	if err := limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return &ProviderError{Provider: name, Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		limiter.SignalRateLimited()
		return &ProviderError{Provider: name, Err: fmt.Errorf("rate limited"), Retryable: true}
	}
	if resp.StatusCode >= 500 {
		return &ProviderError{Provider: name, Err: fmt.Errorf("status %d", resp.StatusCode), Retryable: true}
	}
	if resp.StatusCode != http.StatusOK {
		return &ProviderError{Provider: name, Err: fmt.Errorf("status %d", resp.StatusCode), Retryable: false}
	}

	limiter.ResetBackoff()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Provider: name, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// fetchWindow clamps a lookback to what an API serves for g and returns the
// [from, to] request bounds.
func fetchWindow(now time.Time, g model.Granularity, days int, limits map[model.Granularity]int) (time.Time, time.Time) {
	if days < 1 {
		days = 1
	}
	if max, ok := limits[g]; ok && days > max {
		days = max
	}
	return now.AddDate(0, 0, -days), now
}
