package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rickgao/livequery/internal/api"
	"github.com/rickgao/livequery/internal/livequery"
)

// Client is a connection to one deployment.
type Client struct {
	address string
	api     *api.Client
	manager *livequery.Manager
	logger  *slog.Logger
}

type options struct {
	logger   *slog.Logger
	live     livequery.Config
	apiOpts  []api.ClientOption
	liveOpts []livequery.Option
	ctx      context.Context
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger for the client and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLiveConfig sets backoff and channel settings. ChannelURL is ignored;
// it is always derived from the address.
func WithLiveConfig(cfg livequery.Config) Option {
	return func(o *options) {
		o.live = cfg
	}
}

// WithAPIOptions passes options to the underlying API client.
func WithAPIOptions(opts ...api.ClientOption) Option {
	return func(o *options) {
		o.apiOpts = append(o.apiOpts, opts...)
	}
}

// WithLiveOptions passes options to the subscription manager.
func WithLiveOptions(opts ...livequery.Option) Option {
	return func(o *options) {
		o.liveOpts = append(o.liveOpts, opts...)
	}
}

// WithContext bounds the client's lifetime; cancelling ctx closes it.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

// New connects to the deployment at address, an http:// or https:// URL.
// Any other scheme is an error.
func New(address string, opts ...Option) (*Client, error) {
	o := options{
		logger: slog.Default(),
		live:   livequery.DefaultConfig(),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	address = strings.TrimSuffix(address, "/")

	apiOpts := append([]api.ClientOption{api.WithLogger(o.logger)}, o.apiOpts...)
	liveOpts := append([]livequery.Option{livequery.WithLogger(o.logger)}, o.liveOpts...)

	manager, err := livequery.NewFromBase(address, o.live, liveOpts...)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	if err := manager.Start(o.ctx); err != nil {
		return nil, fmt.Errorf("start live queries: %w", err)
	}

	return &Client{
		address: address,
		api:     api.NewClient(address, apiOpts...),
		manager: manager,
		logger:  o.logger,
	}, nil
}

// Address returns the deployment address without a trailing slash.
func (c *Client) Address() string {
	return c.address
}

// Close disposes every watch and closes the subscribe channel. It must not
// be called from a watch callback.
func (c *Client) Close() error {
	return c.manager.Close()
}

// Stats returns subscription manager statistics.
func (c *Client) Stats() livequery.Stats {
	return c.manager.Stats()
}

// API returns the underlying API client.
func (c *Client) API() *api.Client {
	return c.api
}
