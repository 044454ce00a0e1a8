package connection

import (
	"fmt"
	"strings"
)

// ChannelURL derives the channel address from an HTTP(S) base address:
// http becomes ws, https becomes wss, and SubscribePath is appended. Any
// other scheme is rejected.
func ChannelURL(base string) (string, error) {
	base = strings.TrimSuffix(base, "/")

	scheme, rest, ok := strings.Cut(base, "://")
	if !ok || scheme == "" {
		return "", fmt.Errorf("%w: %q", ErrNotAbsolute, base)
	}

	var wsScheme string
	switch scheme {
	case "http":
		wsScheme = "ws"
	case "https":
		wsScheme = "wss"
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownScheme, scheme)
	}

	return wsScheme + "://" + rest + SubscribePath, nil
}
