// Package storage defines the persistence contract the core depends on
// (spec.md §6.4) and the entities it persists (spec.md §3). The core never
// assumes relational semantics; memstore, redisstore and fileblob are
// interchangeable conforming implementations.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no record exists for the given key, mirroring
// transport/server/auth.Store's ErrNotFound — operations return it (or a
// zero value/false pair) rather than a sentinel panic.
var ErrNotFound = errors.New("storage: not found")

// Session is the persisted MCP session record (spec.md §3 "Session").
type Session struct {
	Id              string
	ProtocolVersion string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
	TenantId        string
	UserId          string
	Attributes      map[string]interface{}
}

// MessageEntry is one queued JSON-RPC envelope awaiting stream delivery.
type MessageEntry struct {
	Id        uint64
	SessionId string
	Data      []byte
	Context   map[string]interface{}
	CreatedAt time.Time
}

// TenantContext is an opaque-to-the-core context record (spec.md §3
// "Tenant context").
type TenantContext struct {
	Id     string
	Type   string
	Name   string
	Active bool
	Data   map[string]interface{}
}

// OAuthClient is a registered OAuth client (spec.md §3 "OAuth client").
type OAuthClient struct {
	ClientId     string
	ClientSecret string // hashed at rest; empty ⇒ public client
	ClientName   string
	RedirectURIs []string
	GrantTypes   []string
	ResponseTypes []string
}

// IsPublic reports whether the client has no confidential secret.
func (c *OAuthClient) IsPublic() bool { return c.ClientSecret == "" }

// AuthorizationCode is a short-lived, single-use authorization grant
// (spec.md §3 "Authorization code").
type AuthorizationCode struct {
	Code                string
	ClientId            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
	UserId              string
	TenantId            string
	ExpiresAt           time.Time
	Consumed            bool
}

// Expired reports whether the code is past its expiry.
func (c *AuthorizationCode) Expired() bool { return time.Now().After(c.ExpiresAt) }

// AccessToken is an issued access/refresh pair (spec.md §3 "Access token").
type AccessToken struct {
	AccessToken  string
	RefreshToken string
	ClientId     string
	Scope        string
	ExpiresAt    time.Time
	Revoked      bool
	UserId       string
	TenantId     string
	Resource     string
	Audience     []string
}

// Valid reports whether the token record authorizes a request right now.
func (t *AccessToken) Valid() bool {
	return t != nil && !t.Revoked && time.Now().Before(t.ExpiresAt)
}

// OAuthRequest is transient per-user-agent authorization-in-flight state
// (spec.md §3 "OAuth request"), keyed by an opaque user-agent session id.
type OAuthRequest struct {
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	RedirectURI         string
	Resource            string
	Scope               string
	ClientId            string
	UserId              string // populated once the host's login flow authenticates
	CreatedAt           time.Time
}

// CorrelationEntry stores a server→client reverse-request's eventual
// response, keyed by the request id the server generated (spec.md §3
// "Sampling / roots / elicitation correlation entry").
type CorrelationEntry struct {
	RequestId string
	Payload   []byte
	CreatedAt time.Time
}

// Storage is the full persistence contract of spec.md §6.4. "Not found"
// cases return (nil, nil) rather than an error, except
// ConsumeAuthorizationCode, which returns ErrNotFound; otherwise Storage
// implementations return a non-nil error only for genuine I/O/encoding
// failures, which callers translate to apierr.NewStorageError.
type Storage interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	StoreSession(ctx context.Context, s *Session, ttl time.Duration) error
	DeleteSession(ctx context.Context, id string) error

	GetMessages(ctx context.Context, sessionId string) ([]*MessageEntry, error)
	StoreMessage(ctx context.Context, sessionId string, data []byte, msgCtx map[string]interface{}) (*MessageEntry, error)
	DeleteMessage(ctx context.Context, msgId uint64) error

	ValidateToken(ctx context.Context, token string) (*AccessToken, error)
	GetContextData(ctx context.Context, contextId, contextType string) (*TenantContext, error)

	GetOAuthClient(ctx context.Context, clientId string) (*OAuthClient, error)
	StoreOAuthClient(ctx context.Context, c *OAuthClient) error

	StoreAuthorizationCode(ctx context.Context, code string, rec *AuthorizationCode) error
	// ConsumeAuthorizationCode atomically reads and marks a code consumed in
	// one storage-level operation, returning ErrNotFound if the code is
	// unknown, already consumed, or expired.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	StoreAccessToken(ctx context.Context, rec *AccessToken) error
	RevokeToken(ctx context.Context, token string) error
	// RevokeTokenPair revokes both members of an access/refresh pair
	// (spec.md's refresh-rotation invariant).
	RevokeTokenPair(ctx context.Context, accessToken, refreshToken string) error
	GetAccessTokenByRefresh(ctx context.Context, refreshToken string) (*AccessToken, error)

	StoreOAuthRequest(ctx context.Context, id string, req *OAuthRequest) error
	GetOAuthRequest(ctx context.Context, id string) (*OAuthRequest, error)
	DeleteOAuthRequest(ctx context.Context, id string) error

	StoreSamplingResponse(ctx context.Context, requestId string, payload []byte) error
	StoreRootsResponse(ctx context.Context, requestId string, payload []byte) error
	GetCorrelationResponse(ctx context.Context, requestId string) (*CorrelationEntry, error)

	// Cleanup removes expired sessions, expired or consumed codes, and
	// expired or revoked tokens, and returns the number of entries removed;
	// queued messages are not removed by it, and the Redis backend relies on
	// key TTLs and removes nothing. Idempotent: a second immediate call
	// removes nothing.
	Cleanup(ctx context.Context) (int, error)
}
