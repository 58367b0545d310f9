package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type (
	// Handler executes jobs of a single kind. Handle receives the raw args
	// payload and a deadline-bound context; the returned error may be
	// wrapped with Permanent or Transient to steer the retry policy.
	Handler interface {
		Kind() string
		Handle(ctx context.Context, args json.RawMessage) error
	}

	JobHandlerFunc[T any] func(ctx context.Context, args T) error
	RawHandlerFunc        func(ctx context.Context) error
)

// NewJobHandler builds a Handler whose kind is derived from the args type.
// Malformed args are a permanent failure: retrying cannot fix a payload that
// does not unmarshal.
func NewJobHandler[T any](handler JobHandlerFunc[T]) Handler {
	var args T
	return &typedHandler[T]{
		kind:    qualifiedStructName(args),
		handler: handler,
	}
}

// NewJobHandlerWithKind builds a Handler with an explicit kind name.
func NewJobHandlerWithKind[T any](kind string, handler JobHandlerFunc[T]) Handler {
	return &typedHandler[T]{
		kind:    kind,
		handler: handler,
	}
}

// NewRawHandler builds a payload-less Handler, used for jobs whose kind
// alone carries all needed information (periodic maintenance and the like).
func NewRawHandler(kind string, handler RawHandlerFunc) Handler {
	return &rawHandler{
		kind:    kind,
		handler: handler,
	}
}

type typedHandler[T any] struct {
	kind    string
	handler JobHandlerFunc[T]
}

func (h *typedHandler[T]) Kind() string {
	return h.kind
}

func (h *typedHandler[T]) Handle(ctx context.Context, args json.RawMessage) error {
	var t T
	if err := json.Unmarshal(args, &t); err != nil {
		return Permanent(err)
	}
	return h.handler(ctx, t)
}

type rawHandler struct {
	kind    string
	handler RawHandlerFunc
}

func (h *rawHandler) Kind() string {
	return h.kind
}

func (h *rawHandler) Handle(ctx context.Context, _ json.RawMessage) error {
	return h.handler(ctx)
}

// qualifiedStructName derives a job kind from an args value, e.g.
// "scheduler.RunArgs". Pointer indirection is stripped so *T and T name the
// same kind.
func qualifiedStructName(v any) string {
	s := fmt.Sprintf("%T", v)
	s = strings.TrimLeft(s, "*")

	return s
}
