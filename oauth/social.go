package oauth

import (
	"context"
	"net/http"
)

// SocialProfile is what a social login exchange resolves to, regardless of
// provider.
type SocialProfile struct {
	Email string
	Name  string
}

// SocialProvider is the trait optional external collaborators implement for
// the Google/LinkedIn/GitHub callbacks of spec.md §4.10. The core trusts
// the provider-specific authorization-code exchange to complete and only
// needs the resulting profile back.
type SocialProvider interface {
	// Name identifies the provider in the "/oauth/{provider}/callback" route.
	Name() string
	// Exchange trades an authorization code (and the original state) for a
	// profile, performing whatever provider-specific token exchange and
	// userinfo fetch that requires.
	Exchange(ctx context.Context, code, state string) (*SocialProfile, error)
}

// RegisterSocialProvider adds p to the set this Server's callback route
// dispatches to.
func (s *Server) RegisterSocialProvider(p SocialProvider) {
	if s.social == nil {
		s.social = map[string]SocialProvider{}
	}
	s.social[p.Name()] = p
}

// HandleSocialCallback implements GET /oauth/{provider}/callback
// (spec.md §4.10): exchanges the code for a profile, records the profile's
// email as the user id on the in-flight authorization request, then renders
// the consent form. No user record is looked up or created.
func (s *Server) HandleSocialCallback(provider string, w http.ResponseWriter, r *http.Request) {
	p, ok := s.social[provider]
	if !ok {
		writeOAuthError(w, http.StatusNotFound, "invalid_request", "unknown social provider")
		return
	}

	cookie, err := r.Cookie(oauthRequestCookie)
	if err != nil || cookie.Value == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "no authorization request in progress")
		return
	}
	req, err := s.Store.GetOAuthRequest(r.Context(), cookie.Value)
	if err != nil || req == nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "authorization request expired or unknown")
		return
	}

	q := r.URL.Query()
	profile, err := p.Exchange(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil || profile == nil || profile.Email == "" {
		writeOAuthError(w, http.StatusBadGateway, "access_denied", "social provider exchange failed")
		return
	}

	req.UserId = profile.Email
	if err := s.Store.StoreOAuthRequest(r.Context(), cookie.Value, req); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to update authorization request")
		return
	}

	client, err := s.Store.GetOAuthClient(r.Context(), req.ClientId)
	if err != nil || client == nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "client lookup failed")
		return
	}
	renderConsentForm(w, s.Config.OAuth.AuthServer.Endpoints.Consent, client.ClientName, req.Scope, profile.Email)
}
