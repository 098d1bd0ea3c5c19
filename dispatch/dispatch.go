// Package dispatch implements the MessageDispatcher of spec.md §4.4: parsing,
// batching, per-session duplicate-id rejection, feature-matrix gating,
// method routing and message-queue delivery. It generalizes
// transport/server/base/handler.go's HandleMessage (message-type detection
// → route → response) from "respond directly on the session" to "queue for
// streaming delivery, except initialize".
package dispatch

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/fernmcp/hostd/internal/apierr"
	"github.com/fernmcp/hostd/internal/config"
	"github.com/fernmcp/hostd/internal/syncmap"
	"github.com/fernmcp/hostd/jsonrpc"
	"github.com/fernmcp/hostd/protocol"
	"github.com/fernmcp/hostd/registry"
	"github.com/fernmcp/hostd/storage"
)

// Result is the outcome of a Dispatch call: an HTTP status and body the
// caller (mcpserver) writes verbatim, plus the new session id when the
// message being handled was "initialize".
type Result struct {
	Status    int
	Body      []byte
	SessionId string
}

// MessageDispatcher is the single entry point for inbound JSON-RPC payloads
// posted to the hosted endpoint.
type MessageDispatcher struct {
	Protocol  *protocol.ProtocolManager
	Tools     *registry.Registry
	Prompts   *registry.Registry
	Resources *registry.ResourceRegistry
	Store     storage.Storage
	ServerInfo config.ServerInfo
	SessionLifetime time.Duration
	Logger    jsonrpc.Logger

	dedup *syncmap.SyncMap[string, *idSet]
}

// New builds a MessageDispatcher wired to the given registries and storage.
func New(pm *protocol.ProtocolManager, tools, prompts *registry.Registry, resources *registry.ResourceRegistry, store storage.Storage, serverInfo config.ServerInfo, sessionLifetime time.Duration) *MessageDispatcher {
	return &MessageDispatcher{
		Protocol:        pm,
		Tools:           tools,
		Prompts:         prompts,
		Resources:       resources,
		Store:           store,
		ServerInfo:      serverInfo,
		SessionLifetime: sessionLifetime,
		Logger:          jsonrpc.DefaultLogger,
		dedup:           syncmap.NewSyncMap[string, *idSet](),
	}
}

// Dispatch parses raw (a single JSON-RPC object or a batch array), resolves
// sessionId's negotiated protocol version, and routes every message it
// contains. sessionId is empty only for the bootstrapping "initialize" call.
func (d *MessageDispatcher) Dispatch(ctx context.Context, sessionId string, raw []byte, rc *registry.RequestContext) *Result {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return d.singleError(nil, apierr.NewInvalidRequest("empty request body"))
	}
	if trimmed[0] == '[' {
		return d.dispatchBatch(ctx, sessionId, trimmed, rc)
	}
	return d.dispatchSingle(ctx, sessionId, trimmed, rc)
}

// probe is a lightweight pre-parse used to classify a message before
// committing to a typed unmarshal, mirroring transport/base.probe but
// widened to also recognize client responses to server-initiated calls
// (§4.6) and explicit-null ids (§4.4 point 2).
type probe struct {
	Id      json.RawMessage     `json:"id"`
	Jsonrpc string              `json:"jsonrpc"`
	Method  *string             `json:"method"`
	Result  json.RawMessage     `json:"result"`
	Error   *jsonrpc.InnerError `json:"error"`
}

func (d *MessageDispatcher) dispatchSingle(ctx context.Context, sessionId string, raw json.RawMessage, rc *registry.RequestContext) *Result {
	var p probe
	if err := gojson.Unmarshal(raw, &p); err != nil {
		return d.singleError(nil, apierr.NewParseError("failed to parse message: %v", err))
	}

	if p.Method == nil {
		// No method ⇒ this is the client's response to an earlier
		// server-initiated sampling/roots/elicitation request (§4.6).
		return d.handleReverseResponse(ctx, raw)
	}

	idPresent := p.Id != nil
	idIsNull := idPresent && string(p.Id) == "null"
	isNotification := isNotificationMethod(*p.Method) || !idPresent

	if p.Jsonrpc != jsonrpc.Version {
		return d.singleError(nil, apierr.NewInvalidRequest("jsonrpc version must be %q", jsonrpc.Version))
	}

	if !isNotification && idIsNull {
		return d.singleError(nil, apierr.NewInvalidRequest("non-notification request must carry a non-null id"))
	}

	if isNotification {
		d.handleNotification(ctx, sessionId, *p.Method, raw)
		return &Result{Status: 202}
	}

	request := &jsonrpc.Request{}
	if err := json.Unmarshal(raw, request); err != nil {
		return d.singleError(nil, apierr.NewParseError("failed to parse request: %v", err))
	}

	if *p.Method == "initialize" {
		return d.handleInitialize(ctx, request)
	}

	if sessionId == "" {
		return d.singleError(request.Id, apierr.NewSessionError("session required for method %q", request.Method))
	}

	response := d.route(ctx, sessionId, request, rc)
	return d.queue(ctx, sessionId, response)
}

// queue appends response to the session's message queue and returns the
// 202-accepted carrier, per spec.md §4.4 point 6.
func (d *MessageDispatcher) queue(ctx context.Context, sessionId string, response *jsonrpc.Response) *Result {
	data, err := json.Marshal(response)
	if err != nil {
		return d.singleError(response.Id, apierr.NewInternalError("failed to encode response: %v", err))
	}
	if _, err := d.Store.StoreMessage(ctx, sessionId, data, nil); err != nil {
		return d.singleError(response.Id, apierr.NewStorageError(err))
	}
	return &Result{Status: 202, Body: []byte(`{"status":"queued"}`)}
}

// singleError builds the single-message error carrier: a JSON-RPC error
// envelope with an HTTP status consistent with its class (spec.md §4.1).
func (d *MessageDispatcher) singleError(id jsonrpc.RequestId, apiErr *apierr.Error) *Result {
	envelope := apiErr.AsJSONRPCError(id)
	data, err := json.Marshal(envelope)
	if err != nil {
		data = []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return &Result{Status: apiErr.HTTPStatus(), Body: data}
}

func isNotificationMethod(method string) bool {
	if method == "initialized" {
		return true
	}
	return len(method) >= len("notifications/") && method[:len("notifications/")] == "notifications/"
}

// handleNotification processes the handful of notification methods spec.md
// §4.4 names explicitly; unrecognized notifications are accepted silently,
// matching "for notifications, silently accept (202)".
func (d *MessageDispatcher) handleNotification(ctx context.Context, sessionId, method string, raw json.RawMessage) {
	switch method {
	case "notifications/cancelled":
		d.drainQueue(ctx, sessionId)
	case "notifications/initialized", "notifications/progress":
		// Acknowledged silently; nothing to persist.
	}
}

// drainQueue removes every pending queued message for sessionId, per
// spec.md §4.4's description of notifications/cancelled.
func (d *MessageDispatcher) drainQueue(ctx context.Context, sessionId string) {
	messages, err := d.Store.GetMessages(ctx, sessionId)
	if err != nil {
		if d.Logger != nil {
			d.Logger.Errorf("failed to drain queue for session %s: %v", sessionId, err)
		}
		return
	}
	for _, m := range messages {
		_ = d.Store.DeleteMessage(ctx, m.Id)
	}
}

// handleReverseResponse records a client's response to an earlier
// server-initiated sampling/roots/elicitation request (spec.md §4.6). Both
// correlation kinds are stored through the same StoreSamplingResponse slot:
// the storage contract's two setters persist into one lookup keyed by
// request id, so either works as the write path for either kind.
func (d *MessageDispatcher) handleReverseResponse(ctx context.Context, raw json.RawMessage) *Result {
	response := &jsonrpc.Response{}
	if err := json.Unmarshal(raw, response); err != nil {
		return d.singleError(nil, apierr.NewParseError("failed to parse reverse-call response: %v", err))
	}
	idKey := fmt.Sprint(response.Id)
	if err := d.Store.StoreSamplingResponse(ctx, idKey, raw); err != nil {
		return d.singleError(response.Id, apierr.NewStorageError(err))
	}
	return &Result{Status: 202}
}

func newSessionSuffix() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
