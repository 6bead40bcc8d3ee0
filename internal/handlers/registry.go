// Package handlers maps outbox message type names to typed handlers.
//
// Every registration binds a type name to a payload shape and a factory. The
// factory runs once per dispatch with a fresh Scope, so handlers never share
// state across messages. Handlers must tolerate redelivery: the watermark is a
// timestamp, so a message may be dispatched more than once.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/events"
	"github.com/mehmetymw/recordsync/internal/store"
	"github.com/mehmetymw/recordsync/internal/types"
)

type PersonRepository interface {
	Get(ctx context.Context, id uuid.UUID) (store.Person, error)
	SetInductionStatus(ctx context.Context, id uuid.UUID, status string) error
	SetTrn(ctx context.Context, id uuid.UUID, trn string) error
	SetQtsDate(ctx context.Context, id uuid.UUID, awarded time.Time) error
}

// Scope carries the per-dispatch dependencies. Persons is bound to the
// dispatch transaction.
type Scope struct {
	Persons PersonRepository
	Logger  *zap.Logger
	Now     func() time.Time

	emitted []events.Event
}

func (s *Scope) Emit(evt events.Event) {
	s.emitted = append(s.emitted, evt)
}

func (s *Scope) Emitted() []events.Event {
	return s.emitted
}

type Handler[M any] interface {
	Handle(ctx context.Context, msg M) error
}

type HandlerFunc[M any] func(ctx context.Context, msg M) error

func (f HandlerFunc[M]) Handle(ctx context.Context, msg M) error { return f(ctx, msg) }

type Factory[M any] func(s *Scope) Handler[M]

type dispatchFunc func(ctx context.Context, s *Scope, payload string) error

type Registry struct {
	handlers map[string]dispatchFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]dispatchFunc)}
}

// Register binds typeName to payload shape M. Registering a name twice is a
// programming error and panics.
func Register[M any](r *Registry, typeName string, factory Factory[M]) {
	if _, dup := r.handlers[typeName]; dup {
		panic(fmt.Sprintf("handlers: %s registered twice", typeName))
	}
	r.handlers[typeName] = func(ctx context.Context, s *Scope, payload string) error {
		var msg M
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return fmt.Errorf("decode %s payload: %w", typeName, err)
		}
		return factory(s).Handle(ctx, msg)
	}
}

func (r *Registry) Dispatch(ctx context.Context, s *Scope, typeName, payload string) error {
	h, ok := r.handlers[typeName]
	if !ok {
		return types.UnknownMessageTypeError(typeName)
	}
	return h(ctx, s, payload)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
