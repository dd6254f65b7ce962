// Package dartapi talks to the DART open-data service: the catalogue
// search endpoint, the corpCode directory, structured detail endpoints,
// the document archive and the web viewer. All traffic goes through a
// host-scoped rate limiter because the service enforces a hard daily
// quota per API key.
//
// Libraries:
// - golang.org/x/time/rate for the token buckets
// - github.com/PuerkitoBio/goquery for viewer HTML cleanup
package dartapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dart_deepsearch/pkg/models"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; dart-deepsearch/1.0)"

	maxRetries     = 3
	backoffBase    = 500 * time.Millisecond
	backoffFactor  = 2
	defaultDailyQuota = 1000
	burstPerSecond = 5
)

// ClientConfig tunes the rate-limited client. QuotaHosts maps a host
// to its daily request quota; hosts not listed get burst smoothing
// only.
type ClientConfig struct {
	QuotaHosts map[string]int
	Timeout    time.Duration
	UserAgent  string
	// HTTPClient overrides the default client, for proxies and tests.
	// Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client is the shared HTTP front for every DART host. One token
// bucket pair per host: a daily-quota bucket sized to the API limit
// and a per-second bucket that keeps bursts polite.
type Client struct {
	httpClient *http.Client
	userAgent  string

	mu      sync.Mutex
	buckets map[string]*hostBucket
	quotas  map[string]int
}

type hostBucket struct {
	daily *rate.Limiter
	burst *rate.Limiter
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	quotas := make(map[string]int, len(cfg.QuotaHosts))
	for host, quota := range cfg.QuotaHosts {
		quotas[host] = quota
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: httpClient,
		userAgent:  userAgent,
		buckets:    make(map[string]*hostBucket),
		quotas:     quotas,
	}
}

// bucket returns the limiter pair for a host, creating it on first use.
func (c *Client) bucket(host string) *hostBucket {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.buckets[host]; ok {
		return b
	}

	b := &hostBucket{
		burst: rate.NewLimiter(rate.Limit(burstPerSecond), burstPerSecond),
	}
	if quota, ok := c.quotas[host]; ok && quota > 0 {
		b.daily = rate.NewLimiter(rate.Every(24*time.Hour/time.Duration(quota)), quota)
	}
	c.buckets[host] = b
	return b
}

// acquire blocks until the host's buckets release a token or ctx ends.
func (c *Client) acquire(ctx context.Context, host string) error {
	b := c.bucket(host)
	if b.daily != nil {
		if err := b.daily.Wait(ctx); err != nil {
			return rateLimitErr(ctx, host, err)
		}
	}
	if err := b.burst.Wait(ctx); err != nil {
		return rateLimitErr(ctx, host, err)
	}
	return nil
}

func rateLimitErr(ctx context.Context, host string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return models.NewPipelineError(models.KindCancelled, "http", "request cancelled while waiting for rate limit", ctx.Err())
	}
	return models.NewPipelineError(models.KindRateLimited, "http",
		fmt.Sprintf("no request token for host %s", host), err)
}

// Get performs a rate-limited GET and returns the full body. Transient
// failures (network errors, 5xx, 429) are retried up to 3 times with
// exponential backoff and jitter; other 4xx responses return as-is so
// callers can inspect the DART error payload.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, headers map[string]string) ([]byte, int, error) {
	body, status, err := c.do(ctx, rawURL, params, headers, func(resp *http.Response) ([]byte, error) {
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, status, err
	}
	return body, status, nil
}

// GetStream is Get without body buffering: the caller owns the reader.
// Retries happen before the stream is handed over, never after.
func (c *Client) GetStream(ctx context.Context, rawURL string, params url.Values, headers map[string]string) (io.ReadCloser, int, error) {
	var stream io.ReadCloser
	_, status, err := c.do(ctx, rawURL, params, headers, func(resp *http.Response) ([]byte, error) {
		stream = resp.Body
		return nil, nil
	})
	if err != nil {
		return nil, status, err
	}
	return stream, status, nil
}

// do runs the request loop. consume takes ownership of the response on
// success.
func (c *Client) do(ctx context.Context, rawURL string, params url.Values, headers map[string]string, consume func(*http.Response) ([]byte, error)) ([]byte, int, error) {
	target := rawURL
	if len(params) > 0 {
		target = rawURL + "?" + params.Encode()
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	host := parsed.Hostname()

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, models.NewPipelineError(models.KindCancelled, "http", "request cancelled", err)
		}
		if err := c.acquire(ctx, host); err != nil {
			return nil, 0, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "*/*")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, 0, models.NewPipelineError(models.KindCancelled, "http", "request cancelled", ctxErr)
			}
			lastErr = err
			if attempt >= maxRetries {
				break
			}
			if err := sleepBackoff(ctx, attempt, 0); err != nil {
				return nil, 0, err
			}
			continue
		}

		if retryableStatus(resp.StatusCode) {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d from %s", resp.StatusCode, host)
			if attempt >= maxRetries {
				return nil, resp.StatusCode, models.NewPipelineError(models.KindRateLimited, "http",
					fmt.Sprintf("retries exhausted for %s", host), lastErr)
			}
			if err := sleepBackoff(ctx, attempt, retryAfter); err != nil {
				return nil, 0, err
			}
			continue
		}

		body, err := consume(resp)
		if err != nil {
			lastErr = err
			if attempt >= maxRetries {
				break
			}
			if err := sleepBackoff(ctx, attempt, 0); err != nil {
				return nil, 0, err
			}
			continue
		}
		return body, resp.StatusCode, nil
	}

	return nil, 0, models.NewPipelineError(models.KindFetchFailed, "http",
		fmt.Sprintf("request to %s failed after %d retries", host, maxRetries), lastErr)
}

// retryableStatus covers 5xx and 429. Other 4xx are the caller's
// problem and never improve on retry.
func retryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// sleepBackoff waits 500ms * 2^attempt with +/-25% jitter, or the
// server-provided Retry-After when longer.
func sleepBackoff(ctx context.Context, attempt int, retryAfter time.Duration) error {
	backoff := backoffBase
	for i := 0; i < attempt; i++ {
		backoff *= backoffFactor
	}
	jittered := time.Duration(float64(backoff) * (0.75 + rand.Float64()*0.5))
	if retryAfter > jittered {
		jittered = retryAfter
	}

	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return models.NewPipelineError(models.KindCancelled, "http", "request cancelled during backoff", ctx.Err())
	case <-timer.C:
		return nil
	}
}
