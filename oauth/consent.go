package oauth

import (
	"fmt"
	"html"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/fernmcp/hostd/storage"
)

const oobRedirectURI = "urn:ietf:wg:oauth:2.0:oob"

// HandleConsent implements POST /consent (spec.md §4.10).
func (s *Server) HandleConsent(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(oauthRequestCookie)
	if err != nil || cookie.Value == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "no authorization request in progress")
		return
	}
	req, err := s.Store.GetOAuthRequest(r.Context(), cookie.Value)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "authorization request lookup failed")
		return
	}
	if req == nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "authorization request expired or unknown")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	if r.FormValue("action") != "allow" {
		s.redirectDenied(w, r, cookie.Value, req)
		return
	}

	userId := r.FormValue("user_id")
	if userId == "" {
		userId = req.UserId
	}
	if userId == "" {
		writeOAuthError(w, http.StatusBadRequest, "access_denied", "no authenticated user for this authorization request")
		return
	}

	code := uuid.New().String()
	rec := &storage.AuthorizationCode{
		Code:                code,
		ClientId:            req.ClientId,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Resource:            req.Resource,
		UserId:              userId,
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}
	if err := s.Store.StoreAuthorizationCode(r.Context(), code, rec); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to persist authorization code")
		return
	}
	_ = s.Store.DeleteOAuthRequest(r.Context(), cookie.Value)
	clearOAuthRequestCookie(w)

	if req.RedirectURI == oobRedirectURI {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!doctype html><html><body><p>Authorization code:</p><code>%s</code></body></html>`, html.EscapeString(code))
		return
	}

	redirectURL, err := url.Parse(req.RedirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "stored redirect_uri is invalid")
		return
	}
	values := redirectURL.Query()
	values.Set("code", code)
	if req.State != "" {
		values.Set("state", req.State)
	}
	redirectURL.RawQuery = values.Encode()
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

func (s *Server) redirectDenied(w http.ResponseWriter, r *http.Request, requestId string, req *storage.OAuthRequest) {
	_ = s.Store.DeleteOAuthRequest(r.Context(), requestId)
	clearOAuthRequestCookie(w)

	if req.RedirectURI == oobRedirectURI {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!doctype html><html><body><p>Authorization denied.</p></body></html>`)
		return
	}
	redirectURL, err := url.Parse(req.RedirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "stored redirect_uri is invalid")
		return
	}
	values := redirectURL.Query()
	values.Set("error", "access_denied")
	if req.State != "" {
		values.Set("state", req.State)
	}
	redirectURL.RawQuery = values.Encode()
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

func clearOAuthRequestCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: oauthRequestCookie, Value: "", Path: "/", MaxAge: -1})
}
