package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/livequery/internal/values"
)

// Update is one value delivered to a watch.
type Update struct {
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	Watch          string          `json:"watch"`       // Configured watch name
	Value          json.RawMessage `json:"value"`       // Wire-encoded value
	ReceivedAt     time.Time       `json:"received_at"` // Local delivery time
}

// NewUpdate encodes value for storage and output.
func NewUpdate(id uuid.UUID, watch string, value any, receivedAt time.Time) (Update, error) {
	data, err := values.Marshal(value)
	if err != nil {
		return Update{}, fmt.Errorf("encode %s value: %w", watch, err)
	}
	return Update{
		SubscriptionID: id,
		Watch:          watch,
		Value:          data,
		ReceivedAt:     receivedAt,
	}, nil
}
