// Package ops is the static operation catalogue and the interceptor
// pipeline every exposed operation runs through.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Parameter types understood by the MCP surface.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Handler executes an operation with JSON-encoded arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Param documents one operation argument.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Operation is one entry of the catalogue.
type Operation struct {
	Name        string
	Domain      string
	Description string
	Params      []Param
	Handler     Handler
}

// Registry maps operation names to their handler and service domain. It is
// populated at startup and read-only afterwards.
type Registry struct {
	ops   map[string]Operation
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

// Register adds op. Names must be unique and handlers non-nil.
func (r *Registry) Register(op Operation) error {
	if op.Name == "" || op.Handler == nil {
		return fmt.Errorf("ops: operation %q needs a name and a handler", op.Name)
	}
	if _, dup := r.ops[op.Name]; dup {
		return fmt.Errorf("ops: operation %q registered twice", op.Name)
	}
	r.ops[op.Name] = op
	r.order = append(r.order, op.Name)
	return nil
}

// MustRegister is Register that panics, for startup wiring.
func (r *Registry) MustRegister(ops ...Operation) {
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the named operation.
func (r *Registry) Lookup(name string) (Operation, bool) {
	op, ok := r.ops[name]
	return op, ok
}

// All returns operations in registration order.
func (r *Registry) All() []Operation {
	out := make([]Operation, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.ops[n])
	}
	return out
}

// Domains returns the distinct service domains, sorted.
func (r *Registry) Domains() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, op := range r.ops {
		if _, ok := seen[op.Domain]; ok {
			continue
		}
		seen[op.Domain] = struct{}{}
		out = append(out, op.Domain)
	}
	sort.Strings(out)
	return out
}

// ByDomain returns the operations of one domain in registration order.
func (r *Registry) ByDomain(domain string) []Operation {
	var out []Operation
	for _, n := range r.order {
		if op := r.ops[n]; op.Domain == domain {
			out = append(out, op)
		}
	}
	return out
}
