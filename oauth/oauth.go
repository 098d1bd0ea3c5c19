// Package oauth implements the OAuthServer of spec.md §4.10: the embedded
// OAuth 2.1 authorization server (/authorize, /consent, /token, /revoke,
// /register, /{provider}/callback) and its RFC 8414/9728 discovery
// documents. Grounded on transport/server/auth's BFF grant/rotation store
// (transport/server/auth/{store,grant,memory_store,redis_store}.go),
// generalized from "browser session" to "OAuth access+refresh pair", and on
// giantswarm-muster/internal/agent/oauth's PKCE and WWW-Authenticate shapes.
package oauth

import (
	"github.com/fernmcp/hostd/internal/config"
	"github.com/fernmcp/hostd/storage"
)

// Server serves every endpoint of spec.md §4.10 and §4.11.
type Server struct {
	Config *config.Config
	Store  storage.Storage
	social map[string]SocialProvider
}

// New builds a Server over cfg and store.
func New(cfg *config.Config, store storage.Storage) *Server {
	return &Server{Config: cfg, Store: store}
}

func (s *Server) authorizeURL() string { return s.Config.BaseURL + s.Config.OAuth.AuthServer.Endpoints.Authorize }
func (s *Server) tokenURL() string     { return s.Config.BaseURL + s.Config.OAuth.AuthServer.Endpoints.Token }
func (s *Server) registerURL() string  { return s.Config.BaseURL + s.Config.OAuth.AuthServer.Endpoints.Register }
func (s *Server) revokeURL() string    { return s.Config.BaseURL + s.Config.OAuth.AuthServer.Endpoints.Revoke }
