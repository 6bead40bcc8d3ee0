package types

import "time"

type ChangeKind string

const (
	Upserted ChangeKind = "upserted"
	Removed  ChangeKind = "removed"
)

// ChangedItem is one entry of a change feed page. Attributes is nil for
// removed items.
type ChangedItem struct {
	Kind       ChangeKind     `json:"kind"`
	EntityType string         `json:"entityType"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Page is one page of a change sequence. The cursor is committed after the
// consumer accepts the page marked Last.
type Page struct {
	Number int
	Items  []ChangedItem
	Last   bool
}

type OutboxMessage struct {
	MessageTypeName string
	Payload         string
	CreatedAt       time.Time
}

// SyncCursor is a journal row. Token is opaque to everything but the feed.
type SyncCursor struct {
	SyncKey    string
	EntityType string
	Token      string
	UpdatedAt  time.Time
}
