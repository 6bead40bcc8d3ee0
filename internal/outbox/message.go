package outbox

import (
	"fmt"

	"github.com/mehmetymw/recordsync/internal/types"
	"github.com/mehmetymw/recordsync/internal/util"
)

const (
	ColumnMessageName = "dfeta_messagename"
	ColumnPayload     = "dfeta_payload"
	ColumnCreatedOn   = "createdon"
)

// parseMessage extracts the envelope from an outbox change. Only upserts are
// meaningful for an append-only outbox.
func parseMessage(item types.ChangedItem) (types.OutboxMessage, error) {
	if item.Kind != types.Upserted {
		return types.OutboxMessage{}, types.UnsupportedChangeVariantError(item.Kind, item.EntityType)
	}
	name, ok := util.String(item.Attributes, ColumnMessageName)
	if !ok {
		return types.OutboxMessage{}, fmt.Errorf("outbox item %s has no %s", item.ID, ColumnMessageName)
	}
	createdAt, ok, err := util.Time(item.Attributes, ColumnCreatedOn)
	if err != nil {
		return types.OutboxMessage{}, fmt.Errorf("outbox item %s: %w", item.ID, err)
	}
	if !ok {
		return types.OutboxMessage{}, fmt.Errorf("outbox item %s has no %s", item.ID, ColumnCreatedOn)
	}
	payload, _ := util.String(item.Attributes, ColumnPayload)
	if payload == "" {
		payload = "{}"
	}
	return types.OutboxMessage{MessageTypeName: name, Payload: payload, CreatedAt: createdAt}, nil
}
