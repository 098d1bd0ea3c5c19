// Package authmw implements the AuthMiddleware of spec.md §4.9: bearer
// extraction, tenant-context resolution, token validation, 2025-06-18
// resource-binding enforcement, and the RFC 9728 discovery-401 response
// generalized from jsonrpc.UnauthorizedError's plain status/body pair into
// the richer self-describing envelope the MCP resource-server profile
// requires.
package authmw

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/fernmcp/hostd/internal/config"
	"github.com/fernmcp/hostd/registry"
	"github.com/fernmcp/hostd/storage"
)

// Rejection is returned when a request fails authentication; the caller
// writes Status/Body/WWWAuthenticate verbatim to the HTTP response.
type Rejection struct {
	Status          int
	Body            []byte
	WWWAuthenticate string
}

// Middleware validates inbound requests against spec.md §4.9.
type Middleware struct {
	Config *config.Config
	Store  storage.Storage
}

// New builds a Middleware over cfg and store.
func New(cfg *config.Config, store storage.Storage) *Middleware {
	return &Middleware{Config: cfg, Store: store}
}

// Authenticate runs steps 1 and 3–8 of spec.md §4.9: when the config is
// authless it returns a synthetic context without further checks. Step 2
// (initialize bypass) is the caller's responsibility — mcpserver skips this
// function for initialize requests. contextId is the tenant context id already extracted from the
// route; negotiatedVersion is the session's protocol version, or "" if the
// session does not exist yet.
func (m *Middleware) Authenticate(ctx context.Context, r *http.Request, contextId, negotiatedVersion string) (*registry.RequestContext, *Rejection) {
	if m.Config.Auth.Authless {
		return &registry.RequestContext{
			TenantId:        m.Config.Auth.AuthlessTenant,
			UserId:          m.Config.Auth.AuthlessSubject,
			BaseURL:         m.Config.BaseURL,
			ProtocolVersion: negotiatedVersion,
		}, nil
	}

	resource := fmt.Sprintf("%s/mcp/%s", strings.TrimSuffix(m.Config.BaseURL, "/"), contextId)

	var contextData *storage.TenantContext
	for _, contextType := range m.Config.Auth.ContextTypes {
		c, err := m.Store.GetContextData(ctx, contextId, contextType)
		if err != nil {
			return nil, m.reject(resource, "context lookup failed")
		}
		if c != nil && c.Active {
			contextData = c
			break
		}
	}
	if contextData == nil {
		return nil, m.reject(resource, "unknown or inactive context")
	}

	token, rejection := m.extractBearer(r, resource)
	if rejection != nil {
		return nil, rejection
	}

	accessToken, err := m.Store.ValidateToken(ctx, token)
	if err != nil {
		return nil, m.reject(resource, "token validation failed")
	}
	if accessToken == nil {
		return nil, m.reject(resource, "invalid or expired token")
	}
	if !scopeSatisfied(accessToken.Scope, m.Config.Auth.RequiredScopes) {
		return nil, m.reject(resource, "insufficient scope")
	}

	if negotiatedVersion == "2025-06-18" {
		if accessToken.Resource != resource || !containsString(accessToken.Audience, resource) {
			return nil, m.reject(resource, "Token not bound to this resource")
		}
		if r.Header.Get("MCP-Protocol-Version") != negotiatedVersion {
			return nil, m.reject(resource, "MCP-Protocol-Version header does not match negotiated version")
		}
	}

	return &registry.RequestContext{
		SessionId:       r.Header.Get("Mcp-Session-Id"),
		ProtocolVersion: negotiatedVersion,
		BaseURL:         m.Config.BaseURL,
		TenantId:        accessToken.TenantId,
		UserId:          accessToken.UserId,
		Scope:           accessToken.Scope,
		TenantData:      contextData.Data,
		TokenData: map[string]interface{}{
			"client_id": accessToken.ClientId,
			"resource":  accessToken.Resource,
			"aud":       accessToken.Audience,
		},
	}, nil
}

// extractBearer reads the Authorization header, rejecting query-string
// tokens outright (spec.md §4.9 step 5).
func (m *Middleware) extractBearer(r *http.Request, resource string) (string, *Rejection) {
	if r.URL.Query().Get("access_token") != "" || r.URL.Query().Get("token") != "" {
		return "", m.reject(resource, "bearer tokens in the query string are not accepted")
	}
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", m.reject(resource, "missing bearer token")
	}
	return strings.TrimPrefix(header, prefix), nil
}

func (m *Middleware) reject(resource, message string) *Rejection {
	body, wwwAuthenticate := buildDiscovery401(&discoveryConfig{
		baseURL:           m.Config.BaseURL,
		authorizeEndpoint: m.Config.OAuth.AuthServer.Endpoints.Authorize,
		tokenEndpoint:     m.Config.OAuth.AuthServer.Endpoints.Token,
		registerEndpoint:  m.Config.OAuth.AuthServer.Endpoints.Register,
	}, resource, message)
	data, err := json.Marshal(body)
	if err != nil {
		data = []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32000,"message":"unauthorized"}}`)
	}
	return &Rejection{Status: http.StatusUnauthorized, Body: data, WWWAuthenticate: wwwAuthenticate}
}

func scopeSatisfied(tokenScope string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	granted := strings.Fields(tokenScope)
	grantedSet := make(map[string]bool, len(granted))
	for _, s := range granted {
		grantedSet[s] = true
	}
	for _, r := range required {
		if !grantedSet[r] {
			return false
		}
	}
	return true
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
