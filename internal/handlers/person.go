package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/events"
)

// Higher wins. A message carrying a status of equal or lower priority than
// the stored one is ignored.
var inductionStatusPriority = map[string]int{
	"None":               0,
	"RequiredToComplete": 1,
	"InProgress":         2,
	"FailedInWales":      3,
	"Exempt":             4,
	"Failed":             5,
	"Passed":             6,
}

type inductionStatusHandler struct {
	scope *Scope
}

func (h *inductionStatusHandler) Handle(ctx context.Context, msg InductionStatusUpdatedMessage) error {
	incoming, ok := inductionStatusPriority[msg.InductionStatus]
	if !ok {
		return fmt.Errorf("unknown induction status %q for %s", msg.InductionStatus, msg.PersonID)
	}
	person, err := h.scope.Persons.Get(ctx, msg.PersonID)
	if err != nil {
		return err
	}

	current := -1
	var previous string
	if person.InductionStatus != nil {
		previous = *person.InductionStatus
		if p, ok := inductionStatusPriority[previous]; ok {
			current = p
		}
	}
	if incoming <= current {
		h.scope.Logger.Debug("Ignoring induction status that is not forward progress",
			zap.String("person_id", msg.PersonID.String()),
			zap.String("current", previous),
			zap.String("incoming", msg.InductionStatus))
		return nil
	}

	if err := h.scope.Persons.SetInductionStatus(ctx, msg.PersonID, msg.InductionStatus); err != nil {
		return err
	}
	h.scope.Emit(events.New(events.InductionStatusChanged, msg.PersonID, h.scope.Now(), map[string]any{
		"previous": previous,
		"current":  msg.InductionStatus,
	}))
	return nil
}

type trnAllocatedHandler struct {
	scope *Scope
}

func (h *trnAllocatedHandler) Handle(ctx context.Context, msg TrnAllocatedMessage) error {
	if msg.Trn == "" {
		return fmt.Errorf("trn allocation for %s has no trn", msg.PersonID)
	}
	person, err := h.scope.Persons.Get(ctx, msg.PersonID)
	if err != nil {
		return err
	}
	if person.Trn != nil {
		if *person.Trn != msg.Trn {
			h.scope.Logger.Warn("Ignoring trn allocation for person that already has a different trn",
				zap.String("person_id", msg.PersonID.String()),
				zap.String("current", *person.Trn),
				zap.String("incoming", msg.Trn))
		}
		return nil
	}

	if err := h.scope.Persons.SetTrn(ctx, msg.PersonID, msg.Trn); err != nil {
		return err
	}
	h.scope.Emit(events.New(events.TrnAllocated, msg.PersonID, h.scope.Now(), map[string]any{"trn": msg.Trn}))
	return nil
}

type qtsAwardedHandler struct {
	scope *Scope
}

func (h *qtsAwardedHandler) Handle(ctx context.Context, msg QtsAwardedMessage) error {
	if msg.AwardedOn.IsZero() {
		return fmt.Errorf("qts award for %s has no date", msg.PersonID)
	}
	person, err := h.scope.Persons.Get(ctx, msg.PersonID)
	if err != nil {
		return err
	}
	if person.QtsDate != nil && !msg.AwardedOn.Before(*person.QtsDate) {
		return nil
	}

	if err := h.scope.Persons.SetQtsDate(ctx, msg.PersonID, msg.AwardedOn); err != nil {
		return err
	}
	h.scope.Emit(events.New(events.QtsAwarded, msg.PersonID, h.scope.Now(), map[string]any{
		"awardedOn": msg.AwardedOn.Format("2006-01-02"),
	}))
	return nil
}
