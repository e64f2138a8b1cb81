// Package euskalmet talks to the Euskalmet open data API.
package euskalmet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/i474232898/euskalmet-poller/internal/common"
	"github.com/i474232898/euskalmet-poller/internal/weather"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.euskadi.eus/euskalmet/"

// Config for a Client. Zero values use defaults.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client

	// RPS and Burst pace every outgoing request. RPS <= 0 disables pacing.
	RPS   float64
	Burst int

	// Backoff applies to setup-time and discovery calls. Reading calls are
	// never retried inside a cycle.
	Backoff BackoffConfig

	Logger *slog.Logger
}

// Client implements weather.StationSource, weather.CatalogSource and
// weather.ForecastSource on top of the REST API.
type Client struct {
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *slog.Logger
}

var (
	_ weather.StationSource  = (*Client)(nil)
	_ weather.CatalogSource  = (*Client)(nil)
	_ weather.ForecastSource = (*Client)(nil)
)

func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	backoff := cfg.Backoff
	if backoff.InitialInterval <= 0 {
		backoff = BackoffConfig{
			MaxRetries:      2,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &Client{
		baseURL: base,
		httpCfg: HTTPClientConfig{Client: httpClient, Backoff: backoff},
		circuit: newBreaker("euskalmet", logger),
		limiter: limiter,
		logger:  logger,
	}
}

// ForSubject returns a client for one subject's cycles. It shares the HTTP
// client and the rate limiter with c but trips its own circuit breaker, so a
// failing station cannot open the circuit for the others.
func (c *Client) ForSubject(subjectID string) *Client {
	sub := *c
	sub.circuit = newBreaker("euskalmet/"+subjectID, c.logger)
	return &sub
}

func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// endpoint joins escaped path segments onto the base URL.
func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL + strings.Join(escaped, "/")
}

// get performs a GET and returns the response for any status below 500.
// retry=false disables backoff for this call.
func (c *Client) get(ctx context.Context, bearer, u string, retry bool) (*http.Response, error) {
	cfg := c.httpCfg
	if !retry {
		cfg.Backoff.MaxRetries = 0
	}

	return doRequestWithResilience(ctx, cfg, c.circuit, c.limiter, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
}

// getJSON performs a GET and decodes a 2xx JSON body into out.
// Other statuses become *weather.StatusError.
func (c *Client) getJSON(ctx context.Context, bearer string, retry bool, out any, segments ...string) error {
	u := c.endpoint(segments...)

	resp, err := c.get(ctx, bearer, u, retry)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return drainStatus(resp)
	}

	if err := decodeJSON(resp, out); err != nil {
		c.logger.Warn("undecodable upstream response", "url", u, "error", err)
		return err
	}
	return nil
}

func decodeJSON(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", weather.ErrTransient, err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && common.HasAny(strings.ToLower(ct), "text/html", "text/xml") {
		return fmt.Errorf("%w: content type %q", weather.ErrMalformed, ct)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", weather.ErrMalformed, err)
	}
	return nil
}
