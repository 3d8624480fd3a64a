package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"regexp"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/davidramz/price-tracker/backend/internal/metrics"
)

const (
	defaultBaseURL = "https://www.amazon.com"
	fetchTimeout   = 15 * time.Second

	// localeParams forces a fixed locale and currency so extracted
	// prices stay comparable across fetches.
	localeParams = "language=en_US&currency=USD"

	// fetchCacheTTL is how long a fetched page is reused for the same
	// product key. Overlapping sweep runs and the on-demand ingest path
	// share the cache so a listing is not hit twice in quick succession.
	fetchCacheTTL  = 2 * time.Minute
	fetchCacheSize = 128

	// maxJitter is the upper bound for the random pre-request delay.
	maxJitter = time.Second
)

// ErrNoProductKey means the submitted URL carries no stable product
// identifier and cannot be monitored.
var ErrNoProductKey = errors.New("url contains no product key")

// HTTPError is a non-success transport status from the listing host.
// Callers treat it as a soft failure: counted, never fatal to a batch.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.Status)
}

var productKeyRe = regexp.MustCompile(`/dp/([A-Z0-9]{10})`)

// ProductKey extracts the stable product identifier from a listing URL.
func ProductKey(rawURL string) (string, bool) {
	m := productKeyRe.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// CanonicalURL strips tracking and search parameters, keeping only the
// stable product path. Persisted URLs stay in this form so re-fetches
// and dedup checks compare equal.
func CanonicalURL(rawURL string) (string, error) {
	key, ok := ProductKey(rawURL)
	if !ok {
		return "", ErrNoProductKey
	}
	return defaultBaseURL + "/dp/" + key, nil
}

// userAgents is the fixed identity pool rotated per request.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 Edg/119.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
}

// Client fetches listing pages with anti-detection measures: rotating
// identity headers, a randomized pre-request delay and a hard floor on
// outbound request rate. It never retries; retry policy belongs to the
// sweep, which paces the whole batch.
type Client struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
	cache   *expirable.LRU[string, string]
	jitter  time.Duration
}

// NewClient creates a fetch client with the default listing host.
func NewClient() *Client {
	return &Client{
		http: &http.Client{
			Timeout: fetchTimeout,
		},
		baseURL: defaultBaseURL,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		cache:   expirable.NewLRU[string, string](fetchCacheSize, nil, fetchCacheTTL),
		jitter:  maxJitter,
	}
}

// Fetch retrieves the listing page for the given URL. The URL is
// canonicalized before the request; a URL without a product key fails
// with ErrNoProductKey. Non-2xx statuses surface as *HTTPError, other
// transport failures as wrapped network errors.
func (c *Client) Fetch(ctx context.Context, rawURL string) (string, error) {
	key, ok := ProductKey(rawURL)
	if !ok {
		return "", ErrNoProductKey
	}

	if body, ok := c.cache.Get(key); ok {
		metrics.FetchRequestsTotal.WithLabelValues("cached").Inc()
		return body, nil
	}

	if err := c.pause(ctx); err != nil {
		return "", err
	}

	reqURL := c.baseURL + "/dp/" + key + "?" + localeParams
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	setIdentityHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.FetchRequestsTotal.WithLabelValues("network_error").Inc()
		return "", fmt.Errorf("failed to fetch listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.FetchRequestsTotal.WithLabelValues("http_error").Inc()
		return "", &HTTPError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.FetchRequestsTotal.WithLabelValues("network_error").Inc()
		return "", fmt.Errorf("failed to read listing body: %w", err)
	}

	metrics.FetchRequestsTotal.WithLabelValues("ok").Inc()
	c.cache.Add(key, string(body))
	return string(body), nil
}

// pause applies the random pre-request jitter and waits for the rate
// limiter, respecting cancellation.
func (c *Client) pause(ctx context.Context) error {
	if c.jitter > 0 {
		delay := time.Duration(rand.Int63n(int64(c.jitter)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	if c.limiter != nil {
		return c.limiter.Wait(ctx)
	}
	return nil
}

// setIdentityHeaders makes the request resemble a browser session. The
// user agent rotates per request; the session cookie is random so
// consecutive fetches do not correlate.
func setIdentityHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,es;q=0.8")
	req.Header.Set("DNT", "1")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Cache-Control", "max-age=0")
	req.Header.Set("Cookie", fmt.Sprintf("i18n-prefs=USD; lc-main=en_US; session-id=%08x", rand.Int63()))
}
