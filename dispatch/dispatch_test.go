package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fernmcp/hostd/internal/config"
	"github.com/fernmcp/hostd/protocol"
	"github.com/fernmcp/hostd/registry"
	"github.com/fernmcp/hostd/storage/memstore"
)

func newTestDispatcher() (*MessageDispatcher, *registry.Registry) {
	pm := protocol.NewProtocolManager(nil)
	tools := registry.New()
	tools.Register(&registry.Entry{
		Name: "echo",
		Handler: func(_ context.Context, params json.RawMessage, _ *registry.RequestContext) (interface{}, error) {
			var args struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(params, &args)
			return map[string]interface{}{"echoed": args.Message}, nil
		},
	})
	prompts := registry.New()
	resources := registry.NewResourceRegistry()
	store := memstore.New()
	d := New(pm, tools, prompts, resources, store, config.ServerInfo{Name: "hostd-test", Version: "0.0.0"}, time.Hour)
	return d, tools
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func TestDispatch_InitializeThenPing(t *testing.T) {
	d, _ := newTestDispatcher()
	ctx := context.Background()

	initReq := mustJSON(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "initialize",
		"params": map[string]interface{}{"protocolVersion": "2025-06-18"},
	})
	res := d.Dispatch(ctx, "", initReq, &registry.RequestContext{})
	if res.Status != 200 || res.SessionId == "" {
		t.Fatalf("initialize failed: status=%d sessionId=%q body=%s", res.Status, res.SessionId, res.Body)
	}

	pingReq := mustJSON(map[string]interface{}{"jsonrpc": "2.0", "id": 2, "method": "ping"})
	res = d.Dispatch(ctx, res.SessionId, pingReq, &registry.RequestContext{})
	if res.Status != 202 {
		t.Fatalf("ping should be queued with 202, got %d body=%s", res.Status, res.Body)
	}
}

func TestDispatch_ToolCallWrapping(t *testing.T) {
	d, _ := newTestDispatcher()
	ctx := context.Background()

	initReq := mustJSON(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "initialize",
		"params": map[string]interface{}{"protocolVersion": "2025-06-18"},
	})
	res := d.Dispatch(ctx, "", initReq, &registry.RequestContext{})
	sessionId := res.SessionId

	callReq := mustJSON(map[string]interface{}{
		"jsonrpc": "2.0", "id": 2, "method": "tools/call",
		"params": map[string]interface{}{"name": "echo", "arguments": map[string]interface{}{"message": "hi"}},
	})
	res = d.Dispatch(ctx, sessionId, callReq, &registry.RequestContext{})
	if res.Status != 202 {
		t.Fatalf("tools/call should be queued, got %d", res.Status)
	}

	messages, err := d.Store.GetMessages(ctx, sessionId)
	if err != nil || len(messages) != 1 {
		t.Fatalf("expected one queued message, got %d err=%v", len(messages), err)
	}
	var envelope struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	if err := json.Unmarshal(messages[0].Data, &envelope); err != nil || len(envelope.Result.Content) != 1 ||
		envelope.Result.Content[0].Type != "text" || envelope.Result.Content[0].Text != `{"echoed":"hi"}` {
		t.Fatalf("expected the tool result wrapped as one text content item, got %s", messages[0].Data)
	}
}

func TestDispatch_DuplicateIdRejected(t *testing.T) {
	d, _ := newTestDispatcher()
	ctx := context.Background()

	initReq := mustJSON(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "initialize",
		"params": map[string]interface{}{"protocolVersion": "2025-06-18"},
	})
	res := d.Dispatch(ctx, "", initReq, &registry.RequestContext{})
	sessionId := res.SessionId

	pingReq := mustJSON(map[string]interface{}{"jsonrpc": "2.0", "id": 7, "method": "ping"})
	d.Dispatch(ctx, sessionId, pingReq, &registry.RequestContext{})
	d.Dispatch(ctx, sessionId, pingReq, &registry.RequestContext{})

	messages, _ := d.Store.GetMessages(ctx, sessionId)
	if len(messages) != 2 {
		t.Fatalf("expected 2 queued messages (success + duplicate error), got %d", len(messages))
	}
	var second map[string]interface{}
	_ = json.Unmarshal(messages[1].Data, &second)
	if second["error"] == nil {
		t.Fatalf("expected second ping with duplicate id to carry an error, got %v", second)
	}
}

func TestDispatch_EmptyBatchRejected(t *testing.T) {
	d, _ := newTestDispatcher()
	res := d.Dispatch(context.Background(), "anything", []byte(`[]`), &registry.RequestContext{})
	if res.Status != 400 {
		t.Fatalf("expected 400 for empty batch, got %d", res.Status)
	}
}

func TestDispatch_BatchDisabledOn2025_06_18(t *testing.T) {
	d, _ := newTestDispatcher()
	ctx := context.Background()
	initReq := mustJSON(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "initialize",
		"params": map[string]interface{}{"protocolVersion": "2025-06-18"},
	})
	res := d.Dispatch(ctx, "", initReq, &registry.RequestContext{})
	sessionId := res.SessionId

	batch := []byte(`[{"jsonrpc":"2.0","id":2,"method":"ping"}]`)
	res = d.Dispatch(ctx, sessionId, batch, &registry.RequestContext{})
	if res.Status != 400 {
		t.Fatalf("expected batching refused on 2025-06-18, got %d body=%s", res.Status, res.Body)
	}
}
