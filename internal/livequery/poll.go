package livequery

import "fmt"

// poll starts one fetch for sub. It runs on the event loop and never starts a
// second fetch while one is in flight for the same subscription.
func (m *Manager) poll(sub *Subscription) {
	if sub.disposed.Load() || m.state == StateClosed {
		return
	}
	if sub.polling {
		sub.logger.Error("poll requested while a fetch is in flight")
		return
	}

	sub.polling = true
	m.stats.Fetches++

	ctx := m.ctx
	go func() {
		res, err := sub.fetch(ctx)
		m.post(func() { m.handleFetch(sub, res, err) })
	}()
}

// handleFetch is the continuation of a fetch.
func (m *Manager) handleFetch(sub *Subscription, res Result, err error) {
	sub.polling = false
	if m.state == StateClosed {
		return
	}

	if err != nil {
		m.stats.FetchErrors++
		delay := m.cfg.Backoff.NextDelay(m.retries)
		m.retries++

		if sub.disposed.Load() {
			sub.logger.Debug("fetch failed after dispose", "error", err)
			return
		}

		sub.logger.Warn("query fetch failed, backing off",
			"error", err,
			"delay", delay,
			"retries", m.retries,
		)
		m.schedule(delay, func() { m.poll(sub) })
		return
	}

	// A successful fetch means the backend is healthy.
	m.retries = 0

	// Disposed while the fetch was in flight.
	if sub.disposed.Load() {
		m.stats.Discarded++
		sub.logger.Debug("discarding result of disposed subscription", "token", res.Token)
		return
	}

	sub.token = res.Token
	if res.Token == "" {
		// Nothing to invalidate on; the value is delivered but won't refresh.
		sub.logger.Warn("query result has no token")
	} else if m.registry.add(res.Token, sub) {
		m.sendToken(res.Token, true)
	}

	m.deliver(sub, res.Value)
}

// deliver hands a value to the subscription's callback. A panicking callback
// is logged and does not take the event loop down.
func (m *Manager) deliver(sub *Subscription, value any) {
	if sub.onUpdate == nil || sub.disposed.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			sub.logger.Error("update callback panicked", "error", fmt.Sprint(r))
		}
	}()

	m.stats.Deliveries++
	sub.onUpdate(value)
}
