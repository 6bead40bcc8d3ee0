package handlers

import (
	"time"

	"github.com/google/uuid"
)

const (
	InductionStatusUpdatedType = "InductionStatusUpdatedMessage"
	TrnAllocatedType           = "TrnAllocatedMessage"
	QtsAwardedType             = "QtsAwardedMessage"
)

type InductionStatusUpdatedMessage struct {
	PersonID        uuid.UUID `json:"personId"`
	InductionStatus string    `json:"inductionStatus"`
}

type TrnAllocatedMessage struct {
	PersonID uuid.UUID `json:"personId"`
	Trn      string    `json:"trn"`
}

type QtsAwardedMessage struct {
	PersonID  uuid.UUID `json:"personId"`
	AwardedOn time.Time `json:"awardedOn"`
}

// NewDefaultRegistry registers every message shape the remote outbox emits.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	Register(r, InductionStatusUpdatedType, func(s *Scope) Handler[InductionStatusUpdatedMessage] {
		return &inductionStatusHandler{scope: s}
	})
	Register(r, TrnAllocatedType, func(s *Scope) Handler[TrnAllocatedMessage] {
		return &trnAllocatedHandler{scope: s}
	})
	Register(r, QtsAwardedType, func(s *Scope) Handler[QtsAwardedMessage] {
		return &qtsAwardedHandler{scope: s}
	})
	return r
}
