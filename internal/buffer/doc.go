// Package buffer provides an unbounded FIFO queue.
//
// Send never blocks: the ring grows when full. This lets an event loop enqueue
// follow-up events from inside its own handlers without deadlocking, and lets
// producers hand work to a slower consumer without dropping it.
package buffer
