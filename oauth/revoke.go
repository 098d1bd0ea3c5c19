package oauth

import "net/http"

// HandleRevoke implements POST /revoke (spec.md §4.10): always responds 200,
// whether or not the token existed, so a client cannot probe for valid
// tokens via the revocation endpoint's status code.
func (s *Server) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	token := r.FormValue("token")
	if token != "" {
		_ = s.Store.RevokeToken(r.Context(), token)
	}
	w.WriteHeader(http.StatusOK)
}
