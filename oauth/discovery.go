package oauth

import (
	"net/http"
	"strings"

	"github.com/fernmcp/hostd/internal/pointer"
	"github.com/fernmcp/hostd/protocol"
)

type authServerMetadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RegistrationEndpoint          string   `json:"registration_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	PKCERequired                  bool     `json:"pkce_required"`
	ResourceIndicatorsSupported   *bool    `json:"resource_indicators_supported,omitempty"`
	RequireResourceParameter      *bool    `json:"require_resource_parameter,omitempty"`
}

// HandleAuthServerMetadata implements GET /.well-known/oauth-authorization-server
// (spec.md §4.11), a pure function of the request URI and configuration. The
// optional version is read from a "version" query parameter (mirroring how
// resource-metadata consumers pass the negotiated MCP protocol version when
// it is not otherwise available at this unauthenticated endpoint).
func (s *Server) HandleAuthServerMetadata(w http.ResponseWriter, r *http.Request) {
	meta := authServerMetadata{
		Issuer:                        strings.TrimSuffix(s.Config.BaseURL, "/"),
		AuthorizationEndpoint:         s.authorizeURL(),
		TokenEndpoint:                 s.tokenURL(),
		RegistrationEndpoint:          s.registerURL(),
		RevocationEndpoint:            s.revokeURL(),
		GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
		ResponseTypesSupported:        []string{"code"},
		CodeChallengeMethodsSupported: []string{"S256"},
		PKCERequired:                  true,
	}
	if r.URL.Query().Get("version") == "2025-06-18" {
		meta.ResourceIndicatorsSupported = pointer.Ref(true)
		meta.RequireResourceParameter = pointer.Ref(true)
	}
	writeJSON(w, http.StatusOK, meta)
}

type protectedResourceMetadata struct {
	Resource              string   `json:"resource"`
	AuthorizationServers  []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported       []string `json:"scopes_supported"`
	MCPFeaturesSupported  []string `json:"mcp_features_supported,omitempty"`
}

// HandleProtectedResourceMetadata implements
// GET /.well-known/oauth-protected-resource (spec.md §4.11). resource is
// the MCP endpoint this document describes (e.g. "<base-url>/mcp/<contextId>"),
// taken from the request path after the well-known prefix, or from a
// "resource" query parameter when one is given.
func (s *Server) HandleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	resource := strings.TrimSuffix(s.Config.BaseURL, "/") + strings.TrimPrefix(r.URL.Path, "/.well-known/oauth-protected-resource")
	if v := r.URL.Query().Get("resource"); v != "" {
		resource = v
	}

	meta := protectedResourceMetadata{
		Resource:               resource,
		AuthorizationServers:   []string{strings.TrimSuffix(s.Config.BaseURL, "/")},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        s.Config.ScopesSupported,
	}
	if version := r.URL.Query().Get("version"); version != "" {
		matrix := protocol.DefaultMatrix()
		row := matrix.Row(version)
		for name, enabled := range row {
			if enabled {
				meta.MCPFeaturesSupported = append(meta.MCPFeaturesSupported, name)
			}
		}
	}
	writeJSON(w, http.StatusOK, meta)
}
