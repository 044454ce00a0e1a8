// Package connection implements the duplex invalidation channel.
//
// The channel is a single WebSocket to the backend's subscribe endpoint:
//   - Client → server: {"token": "...", "begin": true|false} announces or
//     stops tracking an invalidation token
//   - Server → client: {"token": "..."} reports that the data behind a token
//     changed
//
// A Client is single-use. Reconnection is driven by the owner (see package
// livequery), which builds a fresh Client for every attempt.
package connection
