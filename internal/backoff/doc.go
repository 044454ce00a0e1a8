// Package backoff implements the retry delay policy shared by query fetches
// and channel reconnects.
//
// Delays grow exponentially from Initial, are capped at Max, and carry
// symmetric jitter of up to ±50% of the capped value:
//
//	capped = min(Initial * 2^retry, Max)
//	delay  = capped + capped*(u - 0.5),  u ∈ [0, 1)
//
// The policy is a pure function of the retry count. Callers own the counter.
package backoff
