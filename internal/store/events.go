package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mehmetymw/recordsync/internal/db"
	"github.com/mehmetymw/recordsync/internal/events"
)

func InsertEvent(ctx context.Context, q db.Querier, evt events.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", evt.Type, err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO domain_events (event_id, event_type, person_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		evt.ID, evt.Type, evt.PersonID, evt.OccurredAt, payload)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", evt.Type, err)
	}
	return nil
}

func MarkPublished(ctx context.Context, q db.Querier, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	_, err := q.Exec(ctx, `UPDATE domain_events SET published = true WHERE event_id = ANY($1::uuid[])`, strs)
	if err != nil {
		return fmt.Errorf("mark %d events published: %w", len(ids), err)
	}
	return nil
}
