package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rickgao/livequery/internal/backoff"
)

// TracerName is the instrumentation name of request spans.
const TracerName = "livequery.api"

// Client calls query, transaction and GraphQL endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	userAgent  string

	maxRetries  int
	retryPolicy backoff.Policy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new API client. baseURL is the deployment address,
// e.g. https://happy-animal-123.convex.cloud.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		tracer:       otel.Tracer(TracerName),
		maxRetries:   3,
		retryPolicy:  retryPolicy(time.Second),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the deployment address without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, initial time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryPolicy = retryPolicy(initial)
	}
}

// WithRetryPolicy replaces the delay policy between retries.
func WithRetryPolicy(p backoff.Policy) ClientOption {
	return func(c *Client) {
		c.retryPolicy = p
	}
}

// retryPolicy doubles from initial up to backoff.DefaultMax.
func retryPolicy(initial time.Duration) backoff.Policy {
	return backoff.Policy{Initial: initial, Max: max(initial, backoff.DefaultMax)}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTracer sets the tracer used for request spans.
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}
