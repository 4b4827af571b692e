package events

import (
	"encoding/json"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// BaseEvent is the envelope shared by every frame on the wire.
type BaseEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

// EventType returns the wire type of the event.
func (e BaseEvent) EventType() string { return e.Type }

// ClientEvent is implemented by every outbound command.
type ClientEvent interface {
	EventType() string
}

// NewBaseEvent builds an envelope with a fresh event id.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID: NewID("evt_"),
		Type:    eventType,
	}
}

// NewID returns a random id with the given prefix.
func NewID(prefix string) string {
	id, err := nanoid.New()
	if err != nil {
		panic(err)
	}
	return prefix + id
}

// Parse decodes data into an event of type T.
func Parse[T any](data []byte) (*T, error) {
	var x T
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	return &x, nil
}
