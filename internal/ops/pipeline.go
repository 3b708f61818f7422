package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/identity"
)

// Call describes one operation invocation as seen by hooks.
type Call struct {
	Operation string
	Domain    string
	User      string
	Args      json.RawMessage
	Started   time.Time
}

// Hook intercepts operation calls. BeforeCall hooks run in order and may
// abort the call by returning an error. AfterCall and OnError run in reverse
// order; OnError may replace the error it is given.
type Hook interface {
	BeforeCall(ctx context.Context, call *Call) error
	AfterCall(ctx context.Context, call *Call, result any)
	OnError(ctx context.Context, call *Call, err error) error
}

// Pipeline runs registry operations through a fixed chain of hooks.
type Pipeline struct {
	registry *Registry
	hooks    []Hook
}

// NewPipeline creates a pipeline over registry.
func NewPipeline(registry *Registry, hooks ...Hook) *Pipeline {
	return &Pipeline{registry: registry, hooks: hooks}
}

// Registry returns the catalogue the pipeline dispatches to.
func (p *Pipeline) Registry() *Registry { return p.registry }

// Invoke runs the named operation. Panics in the handler become errors
// that go through OnError like any other failure.
func (p *Pipeline) Invoke(ctx context.Context, name string, args json.RawMessage) (result any, err error) {
	op, ok := p.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("ops: operation %q: %w", name, apperr.ErrNotFound)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	call := &Call{
		Operation: op.Name,
		Domain:    op.Domain,
		User:      identity.User(ctx),
		Args:      args,
		Started:   time.Now(),
	}

	for _, h := range p.hooks {
		if err := h.BeforeCall(ctx, call); err != nil {
			return nil, p.fail(ctx, call, err)
		}
	}

	result, err = p.run(ctx, op, args)
	if err != nil {
		return nil, p.fail(ctx, call, err)
	}
	for i := len(p.hooks) - 1; i >= 0; i-- {
		p.hooks[i].AfterCall(ctx, call, result)
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, op Operation, args json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ops: %s panicked: %v\n%s", op.Name, r, debug.Stack())
		}
	}()
	return op.Handler(ctx, args)
}

func (p *Pipeline) fail(ctx context.Context, call *Call, err error) error {
	for i := len(p.hooks) - 1; i >= 0; i-- {
		err = p.hooks[i].OnError(ctx, call, err)
	}
	return err
}

// LoggingHook logs calls at debug level and failures at warn level.
type LoggingHook struct {
	Logger *slog.Logger
}

func (h LoggingHook) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// BeforeCall logs the operation and its arguments.
func (h LoggingHook) BeforeCall(ctx context.Context, call *Call) error {
	h.logger().DebugContext(ctx, "operation started",
		slog.String("operation", call.Operation),
		slog.String("domain", call.Domain),
		slog.String("user", call.User),
		slog.String("args", string(call.Args)))
	return nil
}

// AfterCall logs completion time.
func (h LoggingHook) AfterCall(ctx context.Context, call *Call, _ any) {
	h.logger().DebugContext(ctx, "operation finished",
		slog.String("operation", call.Operation),
		slog.Duration("elapsed", time.Since(call.Started)))
}

// OnError logs the failure and returns it unchanged.
func (h LoggingHook) OnError(ctx context.Context, call *Call, err error) error {
	h.logger().WarnContext(ctx, "operation failed",
		slog.String("operation", call.Operation),
		slog.String("domain", call.Domain),
		slog.Duration("elapsed", time.Since(call.Started)),
		slog.String("error", err.Error()))
	return err
}

// ReportingHook sends unexpected failures to a Sink with the full error
// chain. Caller mistakes (not found, invalid input, forbidden) and errors
// that already carry a user-facing message are not reported.
type ReportingHook struct {
	Sink Sink
}

// BeforeCall is a no-op.
func (ReportingHook) BeforeCall(context.Context, *Call) error { return nil }

// AfterCall is a no-op.
func (ReportingHook) AfterCall(context.Context, *Call, any) {}

// OnError reports err and returns it unchanged.
func (h ReportingHook) OnError(ctx context.Context, call *Call, err error) error {
	if h.Sink == nil || expected(err) {
		return err
	}
	h.Sink.Report(ctx, fmt.Sprintf("%+v", err), call.Operation+" failed")
	return err
}

func expected(err error) bool {
	var ue *apperr.UserError
	switch {
	case errors.As(err, &ue),
		errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrInvalidInput),
		errors.Is(err, apperr.ErrForbidden),
		errors.Is(err, apperr.ErrStateMismatch):
		return true
	}
	return false
}
