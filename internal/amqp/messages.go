package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"spendwise/internal/baas"
)

// ChangeMessage is the broker envelope for one committed row change.
// ID is unique per publish so consumers can drop redeliveries.
type ChangeMessage struct {
	ID          string          `json:"id"`
	Table       string          `json:"table"`
	Type        baas.ChangeType `json:"type"`
	New         json.RawMessage `json:"new,omitempty"`
	Old         json.RawMessage `json:"old,omitempty"`
	CommittedAt time.Time       `json:"committed_at"`
	PublishedAt time.Time       `json:"published_at"`
}

func NewChangeMessage(ev baas.ChangeEvent) *ChangeMessage {
	return &ChangeMessage{
		ID:          uuid.NewString(),
		Table:       ev.Table,
		Type:        ev.Type,
		New:         ev.New,
		Old:         ev.Old,
		CommittedAt: ev.Timestamp,
		PublishedAt: time.Now().UTC(),
	}
}

// Event converts the envelope back into the port's change event.
func (m *ChangeMessage) Event() baas.ChangeEvent {
	return baas.ChangeEvent{
		Table:     m.Table,
		Type:      m.Type,
		New:       m.New,
		Old:       m.Old,
		Timestamp: m.CommittedAt,
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON decodes a message and rejects envelopes missing the
// fields consumers route on.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Table == "" || msg.Type == "" {
		return nil, fmt.Errorf("change message %q missing table or type", msg.ID)
	}
	return &msg, nil
}
