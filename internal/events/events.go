package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	InductionStatusChanged = "InductionStatusChanged"
	TrnAllocated           = "TrnAllocated"
	QtsAwarded             = "QtsAwarded"
)

// Event is a local domain event raised by an outbox handler when it changes
// a person. It is stored in the handler's transaction and published after
// commit.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       string         `json:"type"`
	PersonID   uuid.UUID      `json:"personId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload"`
}

func New(eventType string, personID uuid.UUID, occurredAt time.Time, payload map[string]any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		PersonID:   personID,
		OccurredAt: occurredAt.UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, evts []Event) error
	Close() error
}

// Discard drops every event. It stands in when no broker is configured; the
// events are still kept in domain_events.
type Discard struct{}

func (Discard) Publish(context.Context, []Event) error { return nil }
func (Discard) Close() error                           { return nil }
