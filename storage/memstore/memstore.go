// Package memstore implements storage.Storage in-memory, for development
// and tests. It generalizes the idle/max-TTL and family-revocation patterns
// of transport/server/auth.MemoryStore from BFF grants to the full session,
// message-queue and OAuth-artifact contract of spec.md §6.4.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/fernmcp/hostd/storage"
)

// Store is an in-memory storage.Storage.
type Store struct {
	mu sync.RWMutex

	sessions map[string]*sessionEntry
	messages map[uint64]*storage.MessageEntry
	msgSeq   uint64
	contexts map[string]*storage.TenantContext
	clients  map[string]*storage.OAuthClient
	codes    map[string]*storage.AuthorizationCode
	tokens   map[string]*storage.AccessToken // keyed by access token
	byRefresh map[string]string              // refresh token -> access token
	requests map[string]*storage.OAuthRequest
	correlations map[string]*storage.CorrelationEntry
}

type sessionEntry struct {
	session   *storage.Session
	expiresAt time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sessions:     map[string]*sessionEntry{},
		messages:     map[uint64]*storage.MessageEntry{},
		contexts:     map[string]*storage.TenantContext{},
		clients:      map[string]*storage.OAuthClient{},
		codes:        map[string]*storage.AuthorizationCode{},
		tokens:       map[string]*storage.AccessToken{},
		byRefresh:    map[string]string{},
		requests:     map[string]*storage.OAuthRequest{},
		correlations: map[string]*storage.CorrelationEntry{},
	}
}

func (s *Store) GetSession(_ context.Context, id string) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, nil
	}
	cp := *e.session
	return &cp, nil
}

func (s *Store) StoreSession(_ context.Context, sess *storage.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	exp := time.Now().Add(ttl)
	if ttl <= 0 {
		exp = sess.ExpiresAt
	}
	s.sessions[sess.Id] = &sessionEntry{session: &cp, expiresAt: exp}
	return nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *Store) GetMessages(_ context.Context, sessionId string) ([]*storage.MessageEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.MessageEntry
	for id := uint64(1); id <= s.msgSeq; id++ {
		m, ok := s.messages[id]
		if ok && m.SessionId == sessionId {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) StoreMessage(_ context.Context, sessionId string, data []byte, msgCtx map[string]interface{}) (*storage.MessageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgSeq++
	m := &storage.MessageEntry{
		Id:        s.msgSeq,
		SessionId: sessionId,
		Data:      append([]byte(nil), data...),
		Context:   msgCtx,
		CreatedAt: time.Now(),
	}
	s.messages[m.Id] = m
	return m, nil
}

func (s *Store) DeleteMessage(_ context.Context, msgId uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, msgId)
	return nil
}

func (s *Store) ValidateToken(_ context.Context, token string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[token]
	if !ok || !t.Valid() {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *Store) GetContextData(_ context.Context, contextId, contextType string) (*storage.TenantContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[contextId]
	if !ok || (contextType != "" && c.Type != contextType) {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// PutContext seeds a tenant context; used by tests and by provisioning code
// outside the core's request path.
func (s *Store) PutContext(c *storage.TenantContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[c.Id] = c
}

func (s *Store) GetOAuthClient(_ context.Context, clientId string) (*storage.OAuthClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientId]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *Store) StoreOAuthClient(_ context.Context, c *storage.OAuthClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.clients[c.ClientId] = &cp
	return nil
}

func (s *Store) StoreAuthorizationCode(_ context.Context, code string, rec *storage.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.codes[code] = &cp
	return nil
}

func (s *Store) ConsumeAuthorizationCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.codes[code]
	if !ok || rec.Consumed || rec.Expired() {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	rec.Consumed = true
	return &cp, nil
}

func (s *Store) StoreAccessToken(_ context.Context, rec *storage.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.tokens[rec.AccessToken] = &cp
	if rec.RefreshToken != "" {
		s.byRefresh[rec.RefreshToken] = rec.AccessToken
	}
	return nil
}

func (s *Store) RevokeToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[token]; ok {
		t.Revoked = true
		return nil
	}
	if access, ok := s.byRefresh[token]; ok {
		if t, ok := s.tokens[access]; ok {
			t.Revoked = true
		}
	}
	return nil
}

func (s *Store) RevokeTokenPair(_ context.Context, accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[accessToken]; ok {
		t.Revoked = true
	}
	if access, ok := s.byRefresh[refreshToken]; ok {
		if t, ok := s.tokens[access]; ok {
			t.Revoked = true
		}
	}
	return nil
}

func (s *Store) GetAccessTokenByRefresh(_ context.Context, refreshToken string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	access, ok := s.byRefresh[refreshToken]
	if !ok {
		return nil, nil
	}
	t, ok := s.tokens[access]
	if !ok || t.Revoked {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *Store) StoreOAuthRequest(_ context.Context, id string, req *storage.OAuthRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[id] = &cp
	return nil
}

func (s *Store) GetOAuthRequest(_ context.Context, id string) (*storage.OAuthRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *Store) DeleteOAuthRequest(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, id)
	return nil
}

func (s *Store) StoreSamplingResponse(_ context.Context, requestId string, payload []byte) error {
	return s.storeCorrelation(requestId, payload)
}

func (s *Store) StoreRootsResponse(_ context.Context, requestId string, payload []byte) error {
	return s.storeCorrelation(requestId, payload)
}

func (s *Store) storeCorrelation(requestId string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correlations[requestId] = &storage.CorrelationEntry{
		RequestId: requestId,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: time.Now(),
	}
	return nil
}

func (s *Store) GetCorrelationResponse(_ context.Context, requestId string) (*storage.CorrelationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.correlations[requestId]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *Store) Cleanup(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, e := range s.sessions {
		if now.After(e.expiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	for code, rec := range s.codes {
		if rec.Consumed || rec.Expired() {
			delete(s.codes, code)
			removed++
		}
	}
	for token, rec := range s.tokens {
		if rec.Revoked || now.After(rec.ExpiresAt) {
			delete(s.tokens, token)
			delete(s.byRefresh, rec.RefreshToken)
			removed++
		}
	}
	return removed, nil
}

var _ storage.Storage = (*Store)(nil)
