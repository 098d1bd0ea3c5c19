package oauth

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/fernmcp/hostd/storage"
)

const defaultTokenLifetime = time.Hour

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// HandleToken implements POST /token (spec.md §4.10).
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	switch r.FormValue("grant_type") {
	case "authorization_code":
		s.handleAuthorizationCodeGrant(w, r)
	case "refresh_token":
		s.handleRefreshTokenGrant(w, r)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
}

func (s *Server) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")
	rec, err := s.Store.ConsumeAuthorizationCode(r.Context(), code)
	if err != nil {
		if err == storage.ErrNotFound {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "authorization code is unknown, expired, or already used")
			return
		}
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "authorization code lookup failed")
		return
	}

	clientId := r.FormValue("client_id")
	if clientId == "" {
		clientId = rec.ClientId
	}
	if clientId != rec.ClientId {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "client_id does not match the authorization request")
		return
	}
	if r.FormValue("redirect_uri") != rec.RedirectURI {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri does not match the authorization request")
		return
	}

	verifier := r.FormValue("code_verifier")
	if !VerifyPKCE(verifier, rec.CodeChallenge, rec.CodeChallengeMethod) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "code_verifier does not match the code_challenge")
		return
	}

	client, err := s.Store.GetOAuthClient(r.Context(), rec.ClientId)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "client lookup failed")
		return
	}
	if client == nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "unknown client_id")
		return
	}
	if !client.IsPublic() {
		if !checkClientSecret(client.ClientSecret, r.FormValue("client_secret")) {
			writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
			return
		}
	}

	access, refresh, err := s.issueTokenPair(r, rec.ClientId, rec.UserId, rec.TenantId, rec.Scope, rec.Resource)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to issue tokens")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(defaultTokenLifetime.Seconds()),
		RefreshToken: refresh,
		Scope:        rec.Scope,
	})
}

func (s *Server) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.FormValue("refresh_token")
	old, err := s.Store.GetAccessTokenByRefresh(r.Context(), refreshToken)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "refresh token lookup failed")
		return
	}
	if old == nil || old.Revoked {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh token is unknown, revoked, or already used")
		return
	}

	access, refresh, err := s.issueTokenPair(r, old.ClientId, old.UserId, old.TenantId, old.Scope, old.Resource)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to issue tokens")
		return
	}
	if err := s.Store.RevokeTokenPair(r.Context(), old.AccessToken, old.RefreshToken); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to rotate refresh token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(defaultTokenLifetime.Seconds()),
		RefreshToken: refresh,
		Scope:        old.Scope,
	})
}

// issueTokenPair mints and persists a new access/refresh pair, binding
// resource/aud per RFC 8707 when a resource was carried from the
// authorization request (spec.md §4.10 "persisting resource and aud
// carried from the code").
func (s *Server) issueTokenPair(r *http.Request, clientId, userId, tenantId, scope, resource string) (*storage.AccessToken, string, error) {
	access := uuid.New().String()
	refresh := uuid.New().String()
	var audience []string
	if resource != "" {
		audience = []string{resource}
	}
	rec := &storage.AccessToken{
		AccessToken:  access,
		RefreshToken: refresh,
		ClientId:     clientId,
		Scope:        scope,
		ExpiresAt:    time.Now().Add(defaultTokenLifetime),
		UserId:       userId,
		TenantId:     tenantId,
		Resource:     resource,
		Audience:     audience,
	}
	if err := s.Store.StoreAccessToken(r.Context(), rec); err != nil {
		return nil, "", err
	}
	return rec, refresh, nil
}

// checkClientSecret compares a confidential client's stored bcrypt hash
// against the secret presented at the token endpoint. bcrypt.CompareHashAndPassword
// is already constant-time in the relevant sense (it hashes the candidate
// and compares digests), so no separate subtle.ConstantTimeCompare is needed.
func checkClientSecret(hashed, presented string) bool {
	if presented == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(presented)) == nil
}
