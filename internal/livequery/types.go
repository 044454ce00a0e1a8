package livequery

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/livequery/internal/backoff"
	"github.com/rickgao/livequery/internal/connection"
)

// Result is one successful query fetch.
type Result struct {
	Value any    // Query value, opaque to the manager
	Token string // Invalidation token for the snapshot that produced Value
}

// FetchFunc fetches the current value of a query. It must be idempotent and
// free of side effects; it is called again after every invalidation and
// failure.
type FetchFunc func(ctx context.Context) (Result, error)

// UpdateFunc receives each freshly fetched value.
type UpdateFunc func(value any)

// DisposeFunc ends a subscription. Calling it more than once is harmless.
type DisposeFunc func()

// State is the channel state of a Manager.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats provides statistics about the manager.
type Stats struct {
	State                State
	Retries              int   // Shared failure counter
	Subscriptions        int   // Live (not disposed) subscriptions
	Registered           int   // Tokens in the registry
	Reconnects           int64 // Reconnect attempts scheduled
	Fetches              int64 // Fetches started
	FetchErrors          int64
	Deliveries           int64 // Values handed to update callbacks
	Discarded            int64 // Results dropped because the subscription was disposed
	Invalidations        int64 // Invalidations that triggered a re-fetch
	IgnoredInvalidations int64 // Invalidations for unknown tokens
}

// Config configures a Manager.
type Config struct {
	ChannelURL string                  // ws:// or wss:// subscribe endpoint
	Backoff    backoff.Policy          // Retry delays for fetches and reconnects
	Channel    connection.ClientConfig // URL is taken from ChannelURL
}

// DefaultConfig returns sensible defaults. ChannelURL must still be set.
func DefaultConfig() Config {
	return Config{
		Backoff: backoff.Default(),
		Channel: connection.DefaultClientConfig(),
	}
}

// ChannelFactory builds a fresh channel client for each connection attempt.
type ChannelFactory func(cfg connection.ClientConfig, logger *slog.Logger) connection.Client

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithScheduler replaces the timer implementation used for retries.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		m.scheduler = s
	}
}

// WithChannelFactory replaces the WebSocket client constructor.
func WithChannelFactory(f ChannelFactory) Option {
	return func(m *Manager) {
		m.newChannel = f
	}
}
