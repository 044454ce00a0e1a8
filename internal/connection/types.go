package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrUnknownScheme   = errors.New("unknown address scheme")
	ErrNotAbsolute     = errors.New("address is not an absolute URL")
	ErrMissingToken    = errors.New("message has no token")
)

// SubscribePath is appended to the base address to form the channel address.
const SubscribePath = "/subscribe"

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// TokenCommand announces (Begin=true) or stops (Begin=false) tracking of an
// invalidation token.
type TokenCommand struct {
	Token string `json:"token"`
	Begin bool   `json:"begin"`
}

// Invalidation tells the client that the data behind Token has changed.
type Invalidation struct {
	Token string `json:"token"`
}

// EncodeTokenCommand serializes a token announcement.
func EncodeTokenCommand(token string, begin bool) ([]byte, error) {
	return json.Marshal(TokenCommand{Token: token, Begin: begin})
}

// DecodeInvalidation parses a server push frame.
func DecodeInvalidation(data []byte) (Invalidation, error) {
	var inv Invalidation
	if err := json.Unmarshal(data, &inv); err != nil {
		return Invalidation{}, fmt.Errorf("decode invalidation: %w", err)
	}
	if inv.Token == "" {
		return Invalidation{}, ErrMissingToken
	}
	return inv, nil
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Channel URL (e.g., wss://example.convex.cloud/subscribe)
	PingInterval     time.Duration // How often we ping the server
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	HandshakeTimeout time.Duration // Dial handshake deadline
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     15 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       1000,
	}
}

// withDefaults fills zero fields from DefaultClientConfig.
func (c ClientConfig) withDefaults() ClientConfig {
	d := DefaultClientConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	return c
}
