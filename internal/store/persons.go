package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mehmetymw/recordsync/internal/db"
)

var ErrPersonNotFound = errors.New("person not found")

// Person is the local aggregate the outbox handlers mutate.
type Person struct {
	PersonID        uuid.UUID
	Trn             *string
	FirstName       string
	LastName        string
	InductionStatus *string
	QtsDate         *time.Time
}

// Persons reads and writes person rows through whatever Querier it was built
// with; the outbox processor builds one per dispatch around its transaction.
type Persons struct {
	q db.Querier
}

func NewPersons(q db.Querier) *Persons {
	return &Persons{q: q}
}

// Get locks the row for the rest of the transaction.
func (p *Persons) Get(ctx context.Context, id uuid.UUID) (Person, error) {
	var out Person
	err := p.q.QueryRow(ctx, `
		SELECT person_id, trn, first_name, last_name, induction_status, qts_date
		FROM persons WHERE person_id = $1 FOR UPDATE`, id).
		Scan(&out.PersonID, &out.Trn, &out.FirstName, &out.LastName, &out.InductionStatus, &out.QtsDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return Person{}, fmt.Errorf("%w: %s", ErrPersonNotFound, id)
	}
	if err != nil {
		return Person{}, fmt.Errorf("load person %s: %w", id, err)
	}
	return out, nil
}

func (p *Persons) SetInductionStatus(ctx context.Context, id uuid.UUID, status string) error {
	return p.exec(ctx, "set induction status",
		`UPDATE persons SET induction_status = $2, updated_on = now() WHERE person_id = $1`, id, status)
}

func (p *Persons) SetTrn(ctx context.Context, id uuid.UUID, trn string) error {
	return p.exec(ctx, "set trn",
		`UPDATE persons SET trn = $2, updated_on = now() WHERE person_id = $1`, id, trn)
}

func (p *Persons) SetQtsDate(ctx context.Context, id uuid.UUID, awarded time.Time) error {
	return p.exec(ctx, "set qts date",
		`UPDATE persons SET qts_date = $2, updated_on = now() WHERE person_id = $1`, id, awarded)
}

func (p *Persons) exec(ctx context.Context, op, sql string, id uuid.UUID, arg any) error {
	tag, err := p.q.Exec(ctx, sql, id, arg)
	if err != nil {
		return fmt.Errorf("%s for %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w: %s", op, ErrPersonNotFound, id)
	}
	return nil
}
