package livequery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/livequery/internal/buffer"
	"github.com/rickgao/livequery/internal/connection"
)

// event is a unit of work executed on the event loop.
type event func()

// Manager owns the invalidation channel, the token registry and the poll
// loops of all subscriptions.
type Manager struct {
	cfg        Config
	logger     *slog.Logger
	scheduler  Scheduler
	newChannel ChannelFactory

	events *buffer.Queue[event]

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
	closing   atomic.Bool
	loopDone  chan struct{}

	// Owned by the event loop.
	state    State
	retries  int
	registry *registry
	subs     map[*Subscription]struct{}
	channel  connection.Client
	epoch    uint64
	timers   map[uint64]Timer
	timerSeq uint64
	stats    Stats

	// Published copy of loop state for readers on other goroutines.
	viewMu     sync.RWMutex
	view       Stats
	viewTokens []string
}

// New creates a Manager for the given channel URL. Call Start to connect.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.ChannelURL == "" {
		return nil, fmt.Errorf("%w: empty channel url", connection.ErrNotAbsolute)
	}
	if err := cfg.Backoff.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:        cfg,
		logger:     slog.Default(),
		scheduler:  realScheduler{},
		newChannel: connection.NewClient,
		events:     buffer.New[event](64),
		loopDone:   make(chan struct{}),
		state:      StateConnecting,
		registry:   newRegistry(),
		subs:       make(map[*Subscription]struct{}),
		timers:     make(map[uint64]Timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.publish()

	return m, nil
}

// NewFromBase creates a Manager whose channel address is derived from an
// HTTP(S) base address. An unrecognized scheme is a fatal error.
func NewFromBase(base string, cfg Config, opts ...Option) (*Manager, error) {
	url, err := connection.ChannelURL(base)
	if err != nil {
		return nil, fmt.Errorf("derive channel url: %w", err)
	}
	cfg.ChannelURL = url
	return New(cfg, opts...)
}

// Start runs the event loop and opens the channel. Cancelling ctx closes the
// manager. Calling Start more than once has no effect.
func (m *Manager) Start(ctx context.Context) error {
	m.startOnce.Do(func() {
		m.cancel()
		m.ctx, m.cancel = context.WithCancel(ctx)

		go m.run()
		m.post(m.connect)

		context.AfterFunc(m.ctx, func() { m.Close() })

		m.logger.Info("live query manager started", "url", m.cfg.ChannelURL)
	})
	return nil
}

// Close disposes every subscription, closes the channel and stops the event
// loop. It waits for the loop to finish, so it must not be called from an
// update callback. Subsequent calls are no-ops.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closing.Store(true)
		// A manager that was never started still needs its loop to run the
		// shutdown.
		m.startOnce.Do(func() {
			go m.run()
		})
		m.post(m.shutdown)
	})
	<-m.loopDone
	return nil
}

// Subscribe starts a live query. fetch is polled immediately and again after
// every invalidation; onUpdate receives each fetched value. The returned
// function disposes the subscription.
func (m *Manager) Subscribe(fetch FetchFunc, onUpdate UpdateFunc) DisposeFunc {
	sub := newSubscription(fetch, onUpdate, m.logger)

	if m.closing.Load() || !m.post(func() { m.track(sub) }) {
		sub.disposed.Store(true)
		m.logger.Warn("subscribe on closed manager ignored", "subscription", sub.id.String())
		return func() {}
	}

	return func() { m.dispose(sub) }
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.view
}

// State returns the current channel state.
func (m *Manager) State() State {
	return m.Stats().State
}

// Tokens returns the registered tokens in sorted order.
func (m *Manager) Tokens() []string {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	out := make([]string, len(m.viewTokens))
	copy(out, m.viewTokens)
	return out
}

// post enqueues an event. Returns false once the loop has shut down.
func (m *Manager) post(ev event) bool {
	return m.events.Send(ev)
}

// run is the event loop.
func (m *Manager) run() {
	defer close(m.loopDone)

	for {
		ev, ok := m.events.Receive()
		if !ok {
			return
		}
		ev()
		m.publish()

		if m.state == StateClosed {
			return
		}
	}
}

// publish copies loop state for Stats and Tokens.
func (m *Manager) publish() {
	s := m.stats
	s.State = m.state
	s.Retries = m.retries
	s.Subscriptions = len(m.subs)
	s.Registered = m.registry.len()

	m.viewMu.Lock()
	m.view = s
	if m.registry.changed {
		m.viewTokens = m.registry.tokens()
		sort.Strings(m.viewTokens)
		m.registry.changed = false
	}
	m.viewMu.Unlock()
}

// connect starts a new channel attempt.
func (m *Manager) connect() {
	if m.state == StateClosed {
		return
	}

	m.state = StateConnecting
	m.epoch++
	epoch := m.epoch

	cfg := m.cfg.Channel
	cfg.URL = m.cfg.ChannelURL
	ch := m.newChannel(cfg, m.logger.With("epoch", epoch))
	m.channel = ch

	ctx := m.ctx
	go func() {
		err := ch.Connect(ctx)
		m.post(func() { m.handleOpen(epoch, ch, err) })
	}()
}

// handleOpen processes the outcome of a connection attempt.
func (m *Manager) handleOpen(epoch uint64, ch connection.Client, err error) {
	if m.state == StateClosed || epoch != m.epoch {
		ch.Close()
		return
	}

	if err != nil {
		m.logger.Warn("channel connect failed", "error", err)
		ch.Close()
		m.scheduleReconnect()
		return
	}

	m.state = StateOpen
	m.retries = 0
	m.logger.Info("channel open", "url", m.cfg.ChannelURL, "tokens", m.registry.len())

	// The server lost our tokens along with the old connection.
	for _, token := range m.registry.tokens() {
		m.sendToken(token, true)
	}

	go m.pump(epoch, ch)
}

// pump forwards channel events to the loop until the channel is gone.
func (m *Manager) pump(epoch uint64, ch connection.Client) {
	for {
		select {
		case msg := <-ch.Messages():
			if !m.forward(epoch, msg) {
				return
			}
		case err := <-ch.Errors():
			if !m.post(func() { m.handleTransportError(epoch, err) }) {
				return
			}
		case <-ch.Done():
			// Deliver frames that arrived before the loss.
			if m.drain(epoch, ch) {
				m.post(func() { m.handleClosed(epoch) })
			}
			return
		}
	}
}

// drain forwards whatever the channel has buffered. Returns false once the
// loop has shut down.
func (m *Manager) drain(epoch uint64, ch connection.Client) bool {
	for {
		select {
		case msg := <-ch.Messages():
			if !m.forward(epoch, msg) {
				return false
			}
		case err := <-ch.Errors():
			if !m.post(func() { m.handleTransportError(epoch, err) }) {
				return false
			}
		default:
			return true
		}
	}
}

func (m *Manager) forward(epoch uint64, msg connection.TimestampedMessage) bool {
	data := msg.Data
	return m.post(func() { m.handleMessage(epoch, data) })
}

// handleTransportError logs transport errors; the close event, if any,
// drives reconnection.
func (m *Manager) handleTransportError(epoch uint64, err error) {
	if m.state == StateClosed {
		return
	}
	m.logger.Warn("channel error", "epoch", epoch, "error", err)
}

// handleClosed reacts to a channel that went away without Close.
func (m *Manager) handleClosed(epoch uint64) {
	if m.state == StateClosed || epoch != m.epoch {
		return
	}
	m.channel.Close()
	m.logger.Warn("channel closed")
	m.scheduleReconnect()
}

// scheduleReconnect waits out the backoff and dials again.
func (m *Manager) scheduleReconnect() {
	m.state = StateConnecting

	delay := m.cfg.Backoff.NextDelay(m.retries)
	m.retries++
	m.stats.Reconnects++

	m.logger.Info("attempting reconnect",
		"delay", delay,
		"retries", m.retries,
	)
	m.schedule(delay, m.connect)
}

// handleMessage routes an invalidation to its subscriptions.
func (m *Manager) handleMessage(epoch uint64, data []byte) {
	if m.state == StateClosed {
		return
	}

	inv, err := connection.DecodeInvalidation(data)
	if err != nil {
		m.logger.Warn("ignoring malformed channel message", "epoch", epoch, "error", err)
		return
	}

	holders, ok := m.registry.take(inv.Token)
	if !ok {
		// Already disposed or superseded.
		m.stats.IgnoredInvalidations++
		m.logger.Debug("invalidation for unknown token", "token", inv.Token)
		return
	}

	m.stats.Invalidations++
	for _, sub := range holders {
		sub.logger.Debug("invalidated", "token", inv.Token)
		m.poll(sub)
	}
}

// sendToken announces a token if the channel is open. Send failures are
// logged only; a broken channel closes and the reconnect re-announces.
func (m *Manager) sendToken(token string, begin bool) {
	if m.state != StateOpen || m.channel == nil {
		return
	}

	data, err := connection.EncodeTokenCommand(token, begin)
	if err != nil {
		m.logger.Error("encode token command", "error", err)
		return
	}
	if err := m.channel.Send(data); err != nil {
		m.logger.Warn("failed to send token",
			"token", token,
			"begin", begin,
			"error", err,
		)
		return
	}
	m.logger.Debug("sent token", "token", token, "begin", begin)
}

// schedule runs fn on the loop after d. Pending timers are stopped on close.
func (m *Manager) schedule(d time.Duration, fn func()) {
	m.timerSeq++
	id := m.timerSeq
	m.timers[id] = m.scheduler.AfterFunc(d, func() {
		m.post(func() {
			delete(m.timers, id)
			fn()
		})
	})
}

// track registers a new subscription and starts its poll loop.
func (m *Manager) track(sub *Subscription) {
	if m.state == StateClosed || sub.disposed.Load() {
		return
	}
	m.subs[sub] = struct{}{}
	sub.logger.Debug("subscribed")
	m.poll(sub)
}

// dispose marks a subscription disposed and releases it on the loop.
func (m *Manager) dispose(sub *Subscription) {
	if sub.disposed.Swap(true) {
		return
	}
	m.post(func() { m.release(sub) })
}

// release removes a disposed subscription from the registry.
func (m *Manager) release(sub *Subscription) {
	delete(m.subs, sub)
	if sub.token == "" {
		return
	}
	if last := m.registry.remove(sub.token, sub); last {
		m.sendToken(sub.token, false)
	}
	sub.logger.Debug("disposed", "token", sub.token)
}

// shutdown is the terminal event.
func (m *Manager) shutdown() {
	for token, holders := range m.registry.entries {
		for sub := range holders {
			sub.disposed.Store(true)
		}
		m.sendToken(token, false)
	}
	m.registry.clear()

	for sub := range m.subs {
		sub.disposed.Store(true)
	}
	clear(m.subs)

	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}

	m.state = StateClosed
	if m.channel != nil {
		m.channel.Close()
	}
	m.cancel()
	m.events.Close()

	m.logger.Info("live query manager closed")
}
