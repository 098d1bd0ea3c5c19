// Package registry implements the tool/prompt/resource registries of
// spec.md §4.3: a shared register/list/execute shape, late-bound like the
// teacher's transport.Handler dispatch table, generalized from "one
// jsonrpc.Handler per session" to "one named entry per tool/prompt/resource".
package registry

import (
	"context"
	"encoding/json"
	"fmt"
)

// HandlerFunc is the sync handler contract of spec.md §4.3: params is the
// request's raw params object, rc carries tenant/auth/session context.
type HandlerFunc func(ctx context.Context, params json.RawMessage, rc *RequestContext) (interface{}, error)

// Entry is one registered tool/prompt/resource: a name, its handler, its
// opaque JSON schema (mirroring the teacher's jsonrpc.Request.Params
// json.RawMessage convention), and optional annotations, which list() omits
// for sessions older than 2025-03-26.
type Entry struct {
	Name        string
	Handler     HandlerFunc
	Schema      json.RawMessage
	Annotations json.RawMessage // omitted from list() pre-2025-03-26
}

// Metadata is the list()-view of an Entry, with Handler stripped out.
type Metadata struct {
	Name        string          `json:"name"`
	Schema      json.RawMessage `json:"inputSchema,omitempty"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
}

// NotFoundError is returned by Execute when name has no registered handler.
type NotFoundError struct{ Name string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.Name) }

// ExecutionError wraps a panic or handler error so a misbehaving handler
// becomes an "execution failed" result rather than crashing dispatch.
type ExecutionError struct {
	Name string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %s: %v", e.Name, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Registry holds a name-keyed, last-write-wins table of entries, shared by
// the tool, prompt and resource registries.
type Registry struct {
	order   []string
	entries map[string]*Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: map[string]*Entry{}}
}

// Register adds or replaces an entry; last write wins, and a replaced name
// keeps its original position in list() order.
func (r *Registry) Register(entry *Entry) {
	if r.entries == nil {
		r.entries = map[string]*Entry{}
	}
	if _, exists := r.entries[entry.Name]; !exists {
		r.order = append(r.order, entry.Name)
	}
	r.entries[entry.Name] = entry
}

// List returns entries in registration order, as Metadata. When
// annotationsEnabled is false (session version < 2025-03-26), Annotations is
// omitted from every entry.
func (r *Registry) List(annotationsEnabled bool) []Metadata {
	out := make([]Metadata, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		m := Metadata{Name: e.Name, Schema: e.Schema}
		if annotationsEnabled {
			m.Annotations = e.Annotations
		}
		out = append(out, m)
	}
	return out
}

// Get returns the entry for name, or nil if unregistered.
func (r *Registry) Get(name string) *Entry {
	return r.entries[name]
}

// Execute looks up name and invokes its handler, recovering from panics so a
// single broken handler can never crash the dispatcher (spec.md §4.3).
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage, rc *RequestContext) (result interface{}, err error) {
	entry, ok := r.entries[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	defer func() {
		if p := recover(); p != nil {
			err = &ExecutionError{Name: name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	result, err = entry.Handler(ctx, params, rc)
	if err != nil {
		return nil, &ExecutionError{Name: name, Err: err}
	}
	return result, nil
}
