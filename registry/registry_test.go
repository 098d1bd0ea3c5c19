package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestRegistry_RegisterListExecute(t *testing.T) {
	r := New()
	r.Register(&Entry{
		Name:        "echo",
		Schema:      json.RawMessage(`{"type":"object"}`),
		Annotations: json.RawMessage(`{"readOnly":true}`),
		Handler: func(_ context.Context, params json.RawMessage, _ *RequestContext) (interface{}, error) {
			return string(params), nil
		},
	})

	withAnnotations := r.List(true)
	if len(withAnnotations) != 1 || withAnnotations[0].Annotations == nil {
		t.Fatalf("expected annotations present, got %+v", withAnnotations)
	}
	without := r.List(false)
	if without[0].Annotations != nil {
		t.Fatalf("expected annotations omitted, got %+v", without[0])
	}

	result, err := r.Execute(context.Background(), "echo", json.RawMessage(`"hi"`), &RequestContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != `"hi"` {
		t.Fatalf("got %v", result)
	}
}

func TestRegistry_ExecuteUnknown(t *testing.T) {
	r := New()
	_, err := r.Execute(context.Background(), "missing", nil, &RequestContext{})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestRegistry_ExecuteRecoversPanic(t *testing.T) {
	r := New()
	r.Register(&Entry{
		Name: "boom",
		Handler: func(_ context.Context, _ json.RawMessage, _ *RequestContext) (interface{}, error) {
			panic("kaboom")
		},
	})
	_, err := r.Execute(context.Background(), "boom", nil, &RequestContext{})
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
}

func TestResourceRegistry_ExactThenTemplate(t *testing.T) {
	rr := NewResourceRegistry()
	rr.Register("file:///exact.txt", &Entry{
		Handler: func(_ context.Context, _ json.RawMessage, _ *RequestContext) (interface{}, error) {
			return "exact", nil
		},
	})
	rr.Register("file:///{bucket}/{key}", &Entry{
		Handler: func(_ context.Context, params json.RawMessage, _ *RequestContext) (interface{}, error) {
			var obj map[string]interface{}
			_ = json.Unmarshal(params, &obj)
			return obj["_templateVars"], nil
		},
	})

	result, err := rr.Execute(context.Background(), "file:///exact.txt", nil, &RequestContext{})
	if err != nil || result != "exact" {
		t.Fatalf("exact match failed: %v %v", result, err)
	}

	result, err = rr.Execute(context.Background(), "file:///data/object.json", nil, &RequestContext{})
	if err != nil {
		t.Fatalf("template match failed: %v", err)
	}
	vars, ok := result.(map[string]interface{})
	if !ok || vars["bucket"] != "data" || vars["key"] != "object.json" {
		t.Fatalf("unexpected template vars: %#v", result)
	}
}

func TestResourceRegistry_NoMatch(t *testing.T) {
	rr := NewResourceRegistry()
	_, err := rr.Execute(context.Background(), "file:///nope", nil, &RequestContext{})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
