package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fernmcp/hostd/internal/apierr"
	"github.com/fernmcp/hostd/jsonrpc"
	"github.com/fernmcp/hostd/protocol"
	"github.com/fernmcp/hostd/registry"
)

// route resolves sessionId's negotiated version, applies the duplicate-id
// guard and feature-matrix gating, and dispatches to the method's handler
// (spec.md §4.4 steps 3–5). It always returns a Response — errors are
// encoded into it rather than returned as Go errors, since every outcome
// (success or failure) is queued the same way by the caller.
func (d *MessageDispatcher) route(ctx context.Context, sessionId string, request *jsonrpc.Request, rc *registry.RequestContext) *jsonrpc.Response {
	version, apiErr := d.resolveVersion(ctx, sessionId)
	if apiErr != nil {
		return errorResponse(request.Id, apiErr)
	}
	rc.ProtocolVersion = version
	rc.SessionId = sessionId

	if dup := d.sessionDedup(sessionId).observe(fmt.Sprint(request.Id)); dup {
		return errorResponse(request.Id, apierr.NewInvalidRequest("duplicate request id %v", request.Id))
	}

	if !d.Protocol.SupportsMethod(version, request.Method) {
		return errorResponse(request.Id, apierr.NewMethodNotFound("method %q is not supported on protocol version %s", request.Method, version))
	}

	result, apiErr := d.invoke(ctx, version, request, rc)
	if apiErr != nil {
		return errorResponse(request.Id, apiErr)
	}
	return &jsonrpc.Response{Id: request.Id, Jsonrpc: jsonrpc.Version, Result: result}
}

func (d *MessageDispatcher) sessionDedup(sessionId string) *idSet {
	if existing, ok := d.dedup.Get(sessionId); ok {
		return existing
	}
	set := newIdSet()
	d.dedup.Put(sessionId, set)
	return set
}

func (d *MessageDispatcher) resolveVersion(ctx context.Context, sessionId string) (string, *apierr.Error) {
	sess, err := d.Store.GetSession(ctx, sessionId)
	if err != nil {
		return "", apierr.NewStorageError(err)
	}
	if sess == nil {
		if v, ok := protocol.VersionFromSessionId(sessionId); ok {
			return v, nil
		}
		return "", apierr.NewSessionError("unknown session %q", sessionId)
	}
	if sess.ProtocolVersion != "" {
		return sess.ProtocolVersion, nil
	}
	if v, ok := protocol.VersionFromSessionId(sessionId); ok {
		return v, nil
	}
	return "", apierr.NewSessionError("session %q has no protocol version", sessionId)
}

// invoke routes method to its handler and returns a marshaled result ready
// to populate a Response (spec.md §4.4 step 5).
func (d *MessageDispatcher) invoke(ctx context.Context, version string, request *jsonrpc.Request, rc *registry.RequestContext) (json.RawMessage, *apierr.Error) {
	switch request.Method {
	case "ping":
		return marshalOrInternal(map[string]interface{}{
			"status":    "pong",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})

	case "tools/list":
		annotations := d.Protocol.SupportsFeature(version, protocol.FeatureAnnotations)
		return marshalOrInternal(map[string]interface{}{"tools": d.Tools.List(annotations)})

	case "tools/call":
		return d.callTool(ctx, version, request.Params, rc)

	case "prompts/list":
		annotations := d.Protocol.SupportsFeature(version, protocol.FeatureAnnotations)
		return marshalOrInternal(map[string]interface{}{"prompts": d.Prompts.List(annotations)})

	case "prompts/get":
		return d.execute(ctx, d.Prompts, request.Params, rc)

	case "resources/list", "resources/templates/list":
		annotations := d.Protocol.SupportsFeature(version, protocol.FeatureAnnotations)
		return marshalOrInternal(map[string]interface{}{"resources": d.Resources.List(annotations)})

	case "resources/read":
		return d.readResource(ctx, request.Params, rc)

	case "completions/complete":
		return d.execute(ctx, d.Prompts, request.Params, rc)

	case "elicitation/create", "sampling/createMessage", "roots/list", "roots/read", "roots/listDirectory":
		return d.reverseCall(ctx, request.Method, request.Params, rc)

	default:
		return nil, apierr.NewMethodNotFound("unknown method %q", request.Method)
	}
}

func marshalOrInternal(v interface{}) (json.RawMessage, *apierr.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apierr.NewInternalError("failed to encode result: %v", err)
	}
	return data, nil
}

func (d *MessageDispatcher) execute(ctx context.Context, reg *registry.Registry, params json.RawMessage, rc *registry.RequestContext) (json.RawMessage, *apierr.Error) {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, apierr.NewInvalidParams("failed to parse params: %v", err)
	}
	result, err := reg.Execute(ctx, call.Name, call.Arguments, rc)
	if err != nil {
		return marshalOrInternal(map[string]interface{}{"error": err.Error()})
	}
	return marshalOrInternal(result)
}

func (d *MessageDispatcher) callTool(ctx context.Context, version string, params json.RawMessage, rc *registry.RequestContext) (json.RawMessage, *apierr.Error) {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, apierr.NewInvalidParams("failed to parse params: %v", err)
	}
	if apiErr := d.validateContentAudio(version, call.Arguments); apiErr != nil {
		return nil, apiErr
	}
	result, err := d.Tools.Execute(ctx, call.Name, call.Arguments, rc)
	if err != nil {
		result = map[string]interface{}{"error": err.Error()}
	}
	structured := d.Protocol.SupportsFeature(version, protocol.FeatureStructuredOutput)
	wrapped, marshalErr := wrapToolResult(result, structured)
	if marshalErr != nil {
		return nil, apierr.NewInternalError("failed to wrap tool result: %v", marshalErr)
	}
	return wrapped, nil
}

// validateContentAudio scans a tools/call arguments payload for any "audio"
// typed content items and validates them per spec.md §4.7, rejecting the
// whole call if the version does not support audio content at all.
func (d *MessageDispatcher) validateContentAudio(version string, arguments json.RawMessage) *apierr.Error {
	var probeArgs struct {
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(arguments, &probeArgs); err != nil || len(probeArgs.Content) == 0 {
		return nil
	}
	audioEnabled := d.Protocol.SupportsFeature(version, protocol.FeatureAudioContent)
	for _, item := range probeArgs.Content {
		var kind struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(item, &kind) != nil || kind.Type != "audio" {
			continue
		}
		if !audioEnabled {
			return apierr.NewInvalidParams("audio content is not supported on protocol version %s", version)
		}
		if apiErr := validateAudioContent(item); apiErr != nil {
			return apiErr
		}
	}
	return nil
}

func (d *MessageDispatcher) readResource(ctx context.Context, params json.RawMessage, rc *registry.RequestContext) (json.RawMessage, *apierr.Error) {
	var call struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, apierr.NewInvalidParams("failed to parse params: %v", err)
	}
	result, err := d.Resources.Execute(ctx, call.URI, nil, rc)
	if err != nil {
		return marshalOrInternal(map[string]interface{}{"error": err.Error()})
	}
	return marshalOrInternal(result)
}

// reverseCall enqueues a server→client request (spec.md §4.6): sampling,
// roots, and elicitation are handled by the connected client, not locally,
// so the dispatcher stores a fresh outbound message on the session's queue
// and returns its id as a pending marker. When the client posts its answer,
// handleReverseResponse stores it under that id, where
// Storage.GetCorrelationResponse can read it; nothing in this module reads
// it back.
func (d *MessageDispatcher) reverseCall(ctx context.Context, method string, params json.RawMessage, rc *registry.RequestContext) (json.RawMessage, *apierr.Error) {
	if method == "elicitation/create" && !d.Protocol.SupportsFeature(rc.ProtocolVersion, protocol.FeatureElicitation) {
		return nil, apierr.NewMethodNotFound("elicitation is not supported on protocol version %s", rc.ProtocolVersion)
	}
	suffix, err := newSessionSuffix()
	if err != nil {
		return nil, apierr.NewInternalError("failed to allocate correlation id: %v", err)
	}
	envelope := &jsonrpc.Request{Id: suffix, Jsonrpc: jsonrpc.Version, Method: method, Params: params}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, apierr.NewInternalError("failed to encode reverse call: %v", err)
	}
	if _, err := d.Store.StoreMessage(ctx, rc.SessionId, data, map[string]interface{}{"reverse": true}); err != nil {
		return nil, apierr.NewStorageError(err)
	}
	return marshalOrInternal(map[string]interface{}{"status": "pending", "requestId": suffix})
}

func errorResponse(id jsonrpc.RequestId, apiErr *apierr.Error) *jsonrpc.Response {
	inner := jsonrpc.NewInnerError(apiErr.Code, apiErr.Message, apiErr.Data)
	return &jsonrpc.Response{Id: id, Jsonrpc: jsonrpc.Version, Error: &inner}
}
