package mcpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernmcp/hostd/authmw"
	"github.com/fernmcp/hostd/dispatch"
	"github.com/fernmcp/hostd/internal/config"
	"github.com/fernmcp/hostd/internal/logging"
	"github.com/fernmcp/hostd/oauth"
	"github.com/fernmcp/hostd/protocol"
	"github.com/fernmcp/hostd/registry"
	"github.com/fernmcp/hostd/storage/memstore"
)

func newTestServer(t *testing.T) (*Server, *memstore.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = "http://localhost"
	store := memstore.New()
	pm := protocol.NewProtocolManager(nil)
	tools := registry.New()
	prompts := registry.New()
	resources := registry.NewResourceRegistry()
	d := dispatch.New(pm, tools, prompts, resources, store, cfg.ServerInfo, time.Hour)
	auth := authmw.New(cfg, store)
	oa := oauth.New(cfg, store)
	return New(cfg, pm, d, auth, oa, store, logging.Noop{}), store
}

func TestHandleMCP_OptionsPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodOptions, "/mcp/acme", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleMCP_InitializeAuthless(t *testing.T) {
	s, _ := newTestServer(t)
	s.Config.Auth.Authless = true

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`
	r := httptest.NewRequest(http.MethodPost, "/mcp/acme", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, "body=%s", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("Mcp-Session-Id"), "expected Mcp-Session-Id header on initialize response")
}

func TestHandleMCP_NonInitializeRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	r := httptest.NewRequest(http.MethodPost, "/mcp/acme", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "expected 401 without a bearer token, got body=%s", w.Body.String())
}

func TestHandleMCP_GetStreamsQueuedMessage(t *testing.T) {
	s, store := newTestServer(t)
	s.Config.Auth.Authless = true

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`
	r := httptest.NewRequest(http.MethodPost, "/mcp/acme", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	sessionId := w.Header().Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionId, "expected session id from initialize")

	_, err := store.StoreMessage(context.Background(), sessionId, []byte(`{"jsonrpc":"2.0","id":2,"result":{}}`), nil)
	require.NoError(t, err, "failed to seed queued message")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	getReq := httptest.NewRequest(http.MethodGet, "/mcp/acme/"+sessionId, nil).WithContext(ctx)
	getW := httptest.NewRecorder()
	s.Handler().ServeHTTP(getW, getReq)

	assert.Contains(t, getW.Body.String(), `"result":{}`, "expected queued message to be streamed")
}
