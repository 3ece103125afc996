// Package mediator routes commands and queries to their single registered
// handler through an ordered chain of pipeline behaviors.
package mediator

import (
	"context"
	"fmt"
	"sync"

	pkgerrors "postbox/pkg/errors"
)

type Kind int

const (
	KindCommand Kind = iota
	KindQuery
)

func (k Kind) String() string {
	if k == KindQuery {
		return "query"
	}
	return "command"
}

// Request is a command or query. RequestName is the registry key and must be
// unique per request type.
type Request interface {
	RequestName() string
	Kind() Kind
}

// Command and Query are embedded by request types to fix their Kind.
type Command struct{}

func (Command) Kind() Kind { return KindCommand }

type Query struct{}

func (Query) Kind() Kind { return KindQuery }

type Handler[Req Request, Resp any] interface {
	Handle(ctx context.Context, req Req) (Resp, error)
}

type HandlerFunc[Req Request, Resp any] func(ctx context.Context, req Req) (Resp, error)

func (f HandlerFunc[Req, Resp]) Handle(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// Next continues the pipeline.
type Next func(ctx context.Context) (any, error)

// Behavior wraps every dispatch. Behaviors run in registration order; the
// first one is outermost. Returning without calling next short-circuits.
type Behavior func(ctx context.Context, req Request, next Next) (any, error)

type handlerFunc func(ctx context.Context, req Request) (any, error)

type Mediator struct {
	mu        sync.RWMutex
	handlers  map[string]handlerFunc
	behaviors []Behavior
}

func New(behaviors ...Behavior) *Mediator {
	return &Mediator{
		handlers:  make(map[string]handlerFunc),
		behaviors: behaviors,
	}
}

// Register binds h to the request type Req. A second registration for the
// same request name fails.
func Register[Req Request, Resp any](m *Mediator, h Handler[Req, Resp]) error {
	var zero Req
	name := zero.RequestName()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.handlers[name]; exists {
		return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("handler already registered for %s", name))
	}

	m.handlers[name] = func(ctx context.Context, req Request) (any, error) {
		typed, ok := req.(Req)
		if !ok {
			return nil, pkgerrors.ErrInternal.WithDetail("message", fmt.Sprintf("request %s has unexpected type %T", name, req))
		}
		return h.Handle(ctx, typed)
	}
	return nil
}

// MustRegister is Register for startup wiring.
func MustRegister[Req Request, Resp any](m *Mediator, h Handler[Req, Resp]) {
	if err := Register(m, h); err != nil {
		panic(err)
	}
}

// Dispatch runs req through the behaviors and its handler.
func (m *Mediator) Dispatch(ctx context.Context, req Request) (any, error) {
	if req == nil {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "request is required")
	}

	m.mu.RLock()
	handle, ok := m.handlers[req.RequestName()]
	m.mu.RUnlock()
	if !ok {
		return nil, pkgerrors.ErrInternal.WithDetail("message", fmt.Sprintf("no handler registered for %s", req.RequestName()))
	}

	next := func(ctx context.Context) (any, error) {
		return handle(ctx, req)
	}
	for i := len(m.behaviors) - 1; i >= 0; i-- {
		behavior, inner := m.behaviors[i], next
		next = func(ctx context.Context) (any, error) {
			return behavior(ctx, req, inner)
		}
	}

	return next(ctx)
}

// Send dispatches req and returns the handler's typed response.
func Send[Req Request, Resp any](ctx context.Context, m *Mediator, req Req) (Resp, error) {
	var zero Resp

	result, err := m.Dispatch(ctx, req)
	if err != nil {
		return zero, err
	}

	typed, ok := result.(Resp)
	if !ok {
		return zero, pkgerrors.ErrInternal.WithDetail("message", fmt.Sprintf("%s returned %T, want %T", req.RequestName(), result, zero))
	}
	return typed, nil
}

// Registered reports the request names with a handler.
func (m *Mediator) Registered() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		names = append(names, name)
	}
	return names
}
