package livequery

import (
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription tracks one live query: its fetch, its callback, the token of
// its latest successful fetch and whether it has been disposed.
//
// token and polling are owned by the manager's event loop. disposed may be
// set from any goroutine and never goes back to false.
type Subscription struct {
	id       uuid.UUID
	fetch    FetchFunc
	onUpdate UpdateFunc
	logger   *slog.Logger

	token    string // empty before the first successful fetch
	polling  bool   // a fetch is in flight
	disposed atomic.Bool
}

func newSubscription(fetch FetchFunc, onUpdate UpdateFunc, logger *slog.Logger) *Subscription {
	id := uuid.New()
	return &Subscription{
		id:       id,
		fetch:    fetch,
		onUpdate: onUpdate,
		logger:   logger.With("subscription", id.String()),
	}
}

// ID returns the subscription's identifier.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Disposed reports whether the subscription has been disposed.
func (s *Subscription) Disposed() bool {
	return s.disposed.Load()
}
