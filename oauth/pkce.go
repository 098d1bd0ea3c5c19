package oauth

import (
	"crypto/sha256"
	"encoding/base64"
)

// ChallengeFromVerifier computes the S256 code_challenge for a code_verifier,
// the server-side counterpart to giantswarm-muster's client-side
// GeneratePKCE (pkce.go): base64url-nopad(SHA256(verifier)).
func ChallengeFromVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE checks a token request's code_verifier against the challenge
// recorded at /authorize time (spec.md §4.10 /token, authorization_code
// grant). Only S256 is ever stored (spec.md §4.10 /authorize rejects any
// other code_challenge_method), so method is checked defensively.
func VerifyPKCE(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	if method != "" && method != "S256" {
		return false
	}
	return ChallengeFromVerifier(verifier) == challenge
}
