package dispatch

import (
	"context"
	"encoding/json"

	gojson "github.com/goccy/go-json"

	"github.com/fernmcp/hostd/internal/apierr"
	"github.com/fernmcp/hostd/jsonrpc"
	"github.com/fernmcp/hostd/registry"
)

// dispatchBatch implements spec.md §4.4's batch rules: empty batch and
// version-gated refusal both short-circuit with -32600; otherwise every
// element is processed independently and the replies are collected into one
// JSON array, written directly (batches are not queued — there is no
// per-element streaming destination for a single HTTP reply covering many
// requests).
func (d *MessageDispatcher) dispatchBatch(ctx context.Context, sessionId string, raw json.RawMessage, rc *registry.RequestContext) *Result {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return d.singleError(nil, apierr.NewInvalidRequest("malformed batch: %v", err))
	}
	if len(elements) == 0 {
		return d.singleError(nil, apierr.NewInvalidRequest("batch must not be empty"))
	}

	version, apiErr := d.resolveVersion(ctx, sessionId)
	if apiErr != nil {
		return d.singleError(nil, apiErr)
	}
	if !d.Protocol.BatchingAllowed(version) {
		return d.singleError(nil, apierr.NewInvalidRequest("batch requests are not supported on protocol version %s", version))
	}

	var responses []*jsonrpc.Response
	for _, element := range elements {
		if resp := d.dispatchBatchElement(ctx, sessionId, element, rc); resp != nil {
			responses = append(responses, resp)
		}
	}

	if len(responses) == 0 {
		return &Result{Status: 202}
	}
	body, err := json.Marshal(jsonrpc.NewBatchResponseFromResponses(responses))
	if err != nil {
		return d.singleError(nil, apierr.NewInternalError("failed to encode batch response: %v", err))
	}
	return &Result{Status: 200, Body: body}
}

// dispatchBatchElement processes one batch element and returns its response,
// or nil for a notification (which produces no response item).
func (d *MessageDispatcher) dispatchBatchElement(ctx context.Context, sessionId string, raw json.RawMessage, rc *registry.RequestContext) *jsonrpc.Response {
	var p probe
	if err := gojson.Unmarshal(raw, &p); err != nil || p.Method == nil {
		inner := jsonrpc.NewInnerError(jsonrpc.InvalidRequest, "malformed batch element", nil)
		return &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Error: &inner}
	}

	idPresent := p.Id != nil
	idIsNull := idPresent && string(p.Id) == "null"
	isNotification := isNotificationMethod(*p.Method) || !idPresent

	if !isNotification && idIsNull {
		inner := jsonrpc.NewInnerError(jsonrpc.InvalidRequest, "non-notification request must carry a non-null id", nil)
		return &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Error: &inner}
	}

	if isNotification {
		d.handleNotification(ctx, sessionId, *p.Method, raw)
		return nil
	}

	request := &jsonrpc.Request{}
	if err := json.Unmarshal(raw, request); err != nil {
		inner := jsonrpc.NewInnerError(jsonrpc.ParseError, err.Error(), nil)
		return &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Error: &inner}
	}
	if request.Method == "initialize" {
		inner := jsonrpc.NewInnerError(jsonrpc.InvalidRequest, "initialize is not allowed inside a batch", nil)
		return &jsonrpc.Response{Id: request.Id, Jsonrpc: jsonrpc.Version, Error: &inner}
	}

	elementRc := *rc
	return d.route(ctx, sessionId, request, &elementRc)
}
