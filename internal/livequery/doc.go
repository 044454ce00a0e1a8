// Package livequery keeps client-declared queries fresh.
//
// A Manager owns one invalidation channel and a registry of tokens. Each
// subscription runs a poll loop:
//
//	fetch → register token → announce {token, begin:true} → deliver value
//
// When the server pushes {token} the registry entry is removed and the owning
// subscriptions fetch again. Failed fetches and lost channels are retried with
// the shared backoff counter; on reconnect every registered token is announced
// again.
//
// # Concurrency
//
// All manager state is owned by a single event-loop goroutine. Fetches,
// channel dials and timers run elsewhere and post their results back as
// events, so handlers run to completion without locks. A subscription never
// has more than one fetch in flight, and a disposed subscription never touches
// the registry or its callback again. Disposal is cooperative: an in-flight
// fetch is not aborted, its result is discarded.
//
// Update callbacks run on the event loop. They may call dispose functions and
// Subscribe, but must not call Close or block for long.
package livequery
