package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fernmcp/hostd/internal/apierr"
	"github.com/fernmcp/hostd/jsonrpc"
	"github.com/fernmcp/hostd/protocol"
	"github.com/fernmcp/hostd/storage"
)

// handleInitialize implements spec.md §4.5: negotiate the protocol version,
// allocate and persist a new session, and respond directly (the one
// exception to the queue-everything rule of §4.4 point 6).
func (d *MessageDispatcher) handleInitialize(ctx context.Context, request *jsonrpc.Request) *Result {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if err := json.Unmarshal(request.Params, &params); err != nil || params.ProtocolVersion == "" {
		return d.singleError(request.Id, apierr.NewInvalidParams("initialize requires params.protocolVersion"))
	}

	version := d.Protocol.Negotiate(params.ProtocolVersion)

	suffix, err := newSessionSuffix()
	if err != nil {
		return d.singleError(request.Id, apierr.NewInternalError("failed to allocate session id: %v", err))
	}
	sessionId := protocol.AllocateSessionId(version, suffix)

	now := time.Now()
	sess := &storage.Session{
		Id:              sessionId,
		ProtocolVersion: version,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(d.SessionLifetime),
	}
	if err := d.Store.StoreSession(ctx, sess, d.SessionLifetime); err != nil {
		return d.singleError(request.Id, apierr.NewStorageError(err))
	}

	result, marshalErr := json.Marshal(map[string]interface{}{
		"protocolVersion": version,
		"capabilities":    d.Protocol.Capabilities(version),
		"serverInfo":      d.ServerInfo,
	})
	if marshalErr != nil {
		return d.singleError(request.Id, apierr.NewInternalError("failed to encode initialize result: %v", marshalErr))
	}

	response := &jsonrpc.Response{Id: request.Id, Jsonrpc: jsonrpc.Version, Result: result}
	body, err := json.Marshal(response)
	if err != nil {
		return d.singleError(request.Id, apierr.NewInternalError("failed to encode response: %v", err))
	}
	return &Result{Status: 200, Body: body, SessionId: sessionId}
}
