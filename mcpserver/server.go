// Package mcpserver implements the Server (top-level) of spec.md §4.1: HTTP
// verb dispatch, CORS, the DNS-rebinding guard, session id resolution, and
// route wiring to the dispatcher, the auth middleware, the streaming
// transports, and the embedded OAuth authorization server. Grounded on
// transport/server/http/server.go's thin Server wrapper, generalized from
// "start/shutdown an http.Server" to also own method dispatch.
package mcpserver

import (
	"net/http"
	"strings"

	"github.com/fernmcp/hostd/authmw"
	"github.com/fernmcp/hostd/dispatch"
	"github.com/fernmcp/hostd/internal/config"
	"github.com/fernmcp/hostd/internal/logging"
	"github.com/fernmcp/hostd/oauth"
	"github.com/fernmcp/hostd/protocol"
	"github.com/fernmcp/hostd/storage"
)

// Server owns every HTTP route of spec.md §6.1.
type Server struct {
	Config     *config.Config
	Protocol   *protocol.ProtocolManager
	Dispatcher *dispatch.MessageDispatcher
	Auth       *authmw.Middleware
	OAuth      *oauth.Server
	Store      storage.Storage
	Logger     logging.Logger
}

// New wires a Server from its already-constructed subsystems. A nil logger
// falls back to logging.DefaultLogger.
func New(cfg *config.Config, pm *protocol.ProtocolManager, d *dispatch.MessageDispatcher, auth *authmw.Middleware, oa *oauth.Server, store storage.Storage, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.DefaultLogger
	}
	return &Server{Config: cfg, Protocol: pm, Dispatcher: d, Auth: auth, OAuth: oa, Store: store, Logger: logger}
}

// Handler builds the top-level http.Handler per spec.md §6.1.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/mcp/", s.handleMCP)

	mux.HandleFunc(s.Config.OAuth.AuthServer.Endpoints.Authorize, s.OAuth.HandleAuthorize)
	mux.HandleFunc(s.Config.OAuth.AuthServer.Endpoints.Consent, s.OAuth.HandleConsent)
	mux.HandleFunc(s.Config.OAuth.AuthServer.Endpoints.Token, s.OAuth.HandleToken)
	mux.HandleFunc(s.Config.OAuth.AuthServer.Endpoints.Revoke, s.OAuth.HandleRevoke)
	mux.HandleFunc(s.Config.OAuth.AuthServer.Endpoints.Register, s.OAuth.HandleRegister)
	mux.HandleFunc("/oauth/", s.handleSocialCallback)

	mux.HandleFunc("/.well-known/oauth-authorization-server", s.OAuth.HandleAuthServerMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource", s.OAuth.HandleProtectedResourceMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource/", s.OAuth.HandleProtectedResourceMetadata)

	return mux
}

// handleSocialCallback routes GET /oauth/{provider}/callback (spec.md
// §4.10); every other /oauth/ sub-path is already claimed by a more
// specific mux pattern registered above, so reaching here with anything but
// ".../callback" is a 404.
func (s *Server) handleSocialCallback(w http.ResponseWriter, r *http.Request) {
	const suffix = "/callback"
	if !strings.HasSuffix(r.URL.Path, suffix) {
		http.NotFound(w, r)
		return
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/oauth/"), suffix)
	provider := strings.Trim(trimmed, "/")
	if provider == "" {
		http.NotFound(w, r)
		return
	}
	s.OAuth.HandleSocialCallback(provider, w, r)
}
