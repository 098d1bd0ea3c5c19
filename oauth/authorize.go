package oauth

import (
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fernmcp/hostd/storage"
)

const oauthRequestCookie = "hostd_oauth_rq"

// HandleAuthorize implements GET /authorize (spec.md §4.10).
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if rt := q.Get("response_type"); rt != "code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_response_type", "only response_type=code is supported")
		return
	}

	clientId := q.Get("client_id")
	client, err := s.Store.GetOAuthClient(r.Context(), clientId)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "client lookup failed")
		return
	}
	if client == nil {
		writeOAuthError(w, http.StatusBadRequest, "unauthorized_client", "unknown client_id")
		return
	}

	redirectURI := q.Get("redirect_uri")
	if !containsExact(client.RedirectURIs, redirectURI) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri does not match a registered URI")
		return
	}

	challenge := q.Get("code_challenge")
	method := q.Get("code_challenge_method")
	if challenge == "" || method != "S256" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "PKCE code_challenge with method S256 is required")
		return
	}

	resource := q.Get("resource")
	if q.Get("mcp_protocol_version") == "2025-06-18" {
		if resource == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "resource parameter is mandatory for protocol version 2025-06-18")
			return
		}
	}
	if resource != "" {
		if err := validateResourceParam(resource, s.Config.BaseURL); err != nil {
			writeOAuthError(w, http.StatusBadRequest, "invalid_target", err.Error())
			return
		}
	}

	req := &storage.OAuthRequest{
		State:               q.Get("state"),
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		RedirectURI:         redirectURI,
		Resource:            resource,
		Scope:               q.Get("scope"),
		ClientId:            clientId,
		CreatedAt:           time.Now(),
	}
	requestId := uuid.New().String()
	if err := s.Store.StoreOAuthRequest(r.Context(), requestId, req); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to persist authorization request")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthRequestCookie,
		Value:    requestId,
		Path:     "/",
		HttpOnly: true,
		Secure:   strings.HasPrefix(s.Config.BaseURL, "https://"),
		SameSite: http.SameSiteLaxMode,
	})

	renderConsentForm(w, s.Config.OAuth.AuthServer.Endpoints.Consent, client.ClientName, req.Scope, "")
}

func validateResourceParam(resource, baseURL string) error {
	u, err := url.Parse(resource)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("resource must be a syntactically valid absolute URL")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("server base_url is not configured correctly")
	}
	if u.Scheme != base.Scheme || u.Host != base.Host {
		return fmt.Errorf("resource does not target this server's authority")
	}
	return nil
}

func containsExact(registered []string, candidate string) bool {
	for _, uri := range registered {
		if uri == candidate {
			return true
		}
	}
	return false
}

// renderConsentForm renders the minimal consent page of spec.md §4.10. No
// external identity provider is wired by default, so this built-in page
// also collects the authenticating principal's user id directly; a host
// that wires a social provider (social.go) redirects here instead, already
// carrying an authenticated user-agent session.
func renderConsentForm(w http.ResponseWriter, consentPath, clientName, scope, authenticatedUserId string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	userField := `<label>User id: <input type="text" name="user_id" required></label><br>`
	if authenticatedUserId != "" {
		userField = fmt.Sprintf(`<input type="hidden" name="user_id" value="%s">Signed in as %s<br>`,
			html.EscapeString(authenticatedUserId), html.EscapeString(authenticatedUserId))
	}
	fmt.Fprintf(w, `<!doctype html>
<html><body>
<h1>Authorize %s</h1>
<p>Requested scope: %s</p>
<form method="POST" action="%s">
  %s
  <button type="submit" name="action" value="allow">Allow</button>
  <button type="submit" name="action" value="deny">Deny</button>
</form>
</body></html>`, html.EscapeString(clientName), html.EscapeString(scope), consentPath, userField)
}
