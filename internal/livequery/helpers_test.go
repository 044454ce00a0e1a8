package livequery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rickgao/livequery/internal/backoff"
	"github.com/rickgao/livequery/internal/connection"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// fakeChannel is an in-memory connection.Client.
type fakeChannel struct {
	connectErr   error
	blockConnect bool

	messages chan connection.TimestampedMessage
	errors   chan error
	done     chan struct{}
	doneOnce sync.Once

	mu        sync.Mutex
	connected bool
	closed    bool
	sent      []connection.TokenCommand
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		messages: make(chan connection.TimestampedMessage, 16),
		errors:   make(chan error, 4),
		done:     make(chan struct{}),
	}
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	if f.blockConnect {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.connected = false
	f.mu.Unlock()
	f.drop()
	return nil
}

func (f *fakeChannel) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return connection.ErrNotConnected
	}
	var cmd connection.TokenCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return err
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeChannel) Messages() <-chan connection.TimestampedMessage { return f.messages }
func (f *fakeChannel) Errors() <-chan error                           { return f.errors }
func (f *fakeChannel) Done() <-chan struct{}                          { return f.done }

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// drop simulates the server going away.
func (f *fakeChannel) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.doneOnce.Do(func() { close(f.done) })
}

func (f *fakeChannel) invalidate(token string) {
	data, _ := json.Marshal(connection.Invalidation{Token: token})
	f.messages <- connection.TimestampedMessage{Data: data, ReceivedAt: time.Now()}
}

func (f *fakeChannel) deliverRaw(data string) {
	f.messages <- connection.TimestampedMessage{Data: []byte(data), ReceivedAt: time.Now()}
}

func (f *fakeChannel) commands() []connection.TokenCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]connection.TokenCommand, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// channelPool hands out fake channels in order, creating default ones when
// the prepared list runs out.
type channelPool struct {
	mu       sync.Mutex
	prepared []*fakeChannel
	made     []*fakeChannel
}

func (p *channelPool) factory(cfg connection.ClientConfig, logger *slog.Logger) connection.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ch *fakeChannel
	if len(p.prepared) > 0 {
		ch = p.prepared[0]
		p.prepared = p.prepared[1:]
	} else {
		ch = newFakeChannel()
	}
	p.made = append(p.made, ch)
	return ch
}

func (p *channelPool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.made)
}

func (p *channelPool) get(i int) *fakeChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.made[i]
}

// fakeScheduler records delays. In immediate mode callbacks fire at once;
// otherwise they wait for fire().
type fakeScheduler struct {
	immediate bool

	mu     sync.Mutex
	delays []time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	f       func()
	stopped atomic.Bool
	fired   atomic.Bool
}

func (t *fakeTimer) Stop() bool {
	if t.fired.Load() {
		return false
	}
	return !t.stopped.Swap(true)
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{f: f}
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.timers = append(s.timers, t)
	s.mu.Unlock()

	if s.immediate {
		t.fired.Store(true)
		go f()
	}
	return t
}

// fire runs the i-th scheduled callback unless it was stopped.
func (s *fakeScheduler) fire(t *testing.T, i int) {
	t.Helper()
	timers := s.pending()
	require.Greater(t, len(timers), i, "timer %d was never scheduled", i)
	tm := timers[i]
	if tm.stopped.Load() || tm.fired.Swap(true) {
		return
	}
	tm.f()
}

func (s *fakeScheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*fakeTimer, len(s.timers))
	copy(out, s.timers)
	return out
}

// scriptedFetch returns canned results in order and tracks concurrency.
type scriptedFetch struct {
	mu      sync.Mutex
	steps   []fetchStep
	calls   int
	gate    chan struct{} // when non-nil, each call waits for a receive
	started chan int      // receives the call number when a fetch begins

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

type fetchStep struct {
	res Result
	err error
}

var errFetch = errors.New("backend unavailable")

func (s *scriptedFetch) fetch(ctx context.Context) (Result, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		cur := s.maxInflight.Load()
		if n <= cur || s.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}

	s.mu.Lock()
	call := s.calls
	s.calls++
	step := s.steps[len(s.steps)-1]
	if call < len(s.steps) {
		step = s.steps[call]
	}
	s.mu.Unlock()

	if s.started != nil {
		s.started <- call
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return step.res, step.err
}

func (s *scriptedFetch) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// updates collects delivered values.
type updates struct {
	mu     sync.Mutex
	values []any
}

func (u *updates) record(v any) {
	u.mu.Lock()
	u.values = append(u.values, v)
	u.mu.Unlock()
}

func (u *updates) all() []any {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]any, len(u.values))
	copy(out, u.values)
	return out
}

func (u *updates) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.values)
}

// fixedPolicy has no jitter so delays equal the capped value.
func fixedPolicy() backoff.Policy {
	return backoff.Policy{
		Initial: 100 * time.Millisecond,
		Max:     time.Second,
		Rand:    func() float64 { return 0.5 },
	}
}

type harness struct {
	m     *Manager
	pool  *channelPool
	sched *fakeScheduler
}

func newHarness(t *testing.T, pool *channelPool, sched *fakeScheduler) *harness {
	t.Helper()
	if pool == nil {
		pool = &channelPool{}
	}
	if sched == nil {
		sched = &fakeScheduler{immediate: true}
	}

	cfg := DefaultConfig()
	cfg.ChannelURL = "ws://test.invalid/subscribe"
	cfg.Backoff = fixedPolicy()

	m, err := New(cfg,
		WithChannelFactory(pool.factory),
		WithScheduler(sched),
		WithLogger(slog.New(slog.DiscardHandler)),
	)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { m.Close() })

	return &harness{m: m, pool: pool, sched: sched}
}

func (h *harness) waitOpen(t *testing.T) *fakeChannel {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.State() == StateOpen }, waitFor, tick)
	return h.pool.get(h.pool.count() - 1)
}

func (h *harness) waitTokens(t *testing.T, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := h.m.Tokens()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, waitFor, tick, "tokens never became %v (have %v)", want, h.m.Tokens())
}

// begins returns the tokens announced with begin=true.
func begins(cmds []connection.TokenCommand) []string {
	var out []string
	for _, c := range cmds {
		if c.Begin {
			out = append(out, c.Token)
		}
	}
	return out
}

func stops(cmds []connection.TokenCommand) []string {
	var out []string
	for _, c := range cmds {
		if !c.Begin {
			out = append(out, c.Token)
		}
	}
	return out
}
