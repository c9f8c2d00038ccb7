package domain

import "encoding/json"

// EventType classifies an outbound protocol event.
type EventType string

const (
	EventStatus EventType = "status"
	EventChunk  EventType = "chunk"
	EventError  EventType = "error"
)

// EmitFunc delivers one outbound event to the caller. A non-nil error means
// the caller is gone and the producer should abandon the request without
// emitting anything further.
type EmitFunc func(Event) error

// Event is one record of the outbound chat stream. The wire format is
// newline-delimited JSON with no terminal record: status and chunk events
// always carry a content key (even when the increment is empty), error
// events carry an error key instead.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Error   string    `json:"error,omitempty"`
}

func StatusEvent(text string) Event {
	return Event{Type: EventStatus, Content: text}
}

func ChunkEvent(text string) Event {
	return Event{Type: EventChunk, Content: text}
}

func ErrorEvent(text string) Event {
	return Event{Type: EventError, Error: text}
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventError {
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Error string    `json:"error"`
		}{e.Type, e.Error})
	}
	return json.Marshal(struct {
		Type    EventType `json:"type"`
		Content string    `json:"content"`
	}{e.Type, e.Content})
}
