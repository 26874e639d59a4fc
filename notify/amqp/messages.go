package amqp

import (
	"encoding/json"
	"time"

	"github.com/warp/capital-ledger/ledger"
)

// RoutingKeyPrefix is prepended to the change kind to form the routing key.
const RoutingKeyPrefix = "ledger."

// ChangeMessage announces that an owner's record changed. Consumers fetch
// the current state themselves, the message carries no figures.
type ChangeMessage struct {
	Owner     string    `json:"owner"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

func NewChangeMessage(c ledger.Change) *ChangeMessage {
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return &ChangeMessage{
		Owner:     string(c.Owner),
		Kind:      string(c.Kind),
		Timestamp: at,
	}
}

// RoutingKey returns e.g. "ledger.summary".
func (m *ChangeMessage) RoutingKey() string {
	return RoutingKeyPrefix + m.Kind
}

func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
