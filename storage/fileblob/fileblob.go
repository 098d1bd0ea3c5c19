// Package fileblob implements storage.Storage over a viant/afs filesystem,
// writing one JSON object per entity under a configured root URL. It gives a
// single-node deployment durable storage without requiring Redis, trading
// memstore's process-lifetime scope for disk (or any afs-addressable medium,
// including object stores) persistence.
package fileblob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/url"

	"github.com/fernmcp/hostd/internal/secretcipher"
	"github.com/fernmcp/hostd/storage"
)

// Store is an afs-backed storage.Storage. Message sequencing and the
// refresh-token index are kept in memory, rebuilt from the blob tree at
// startup by Open; everything else round-trips through afs on every call.
type Store struct {
	fs     afs.Service
	root   string
	cipher secretcipher.Cipher

	mu        sync.Mutex
	msgSeq    uint64
	byRefresh map[string]string
}

// Open creates (or attaches to) a file-blob store rooted at rootURL, e.g.
// "file:///var/lib/hostd" or "mem://localhost/hostd" for tests. cipher may be
// secretcipher.Noop{} when at-rest encryption is not required.
func Open(ctx context.Context, rootURL string, cipher secretcipher.Cipher) (*Store, error) {
	if cipher == nil {
		cipher = secretcipher.Noop{}
	}
	s := &Store{
		fs:        afs.New(),
		root:      strings.TrimSuffix(rootURL, "/"),
		cipher:    cipher,
		byRefresh: map[string]string{},
	}
	if err := s.fs.Create(ctx, s.root+"/", 0755, true); err != nil {
		return nil, fmt.Errorf("fileblob: failed to create root %s: %w", rootURL, err)
	}
	if err := s.rebuildIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) rebuildIndex(ctx context.Context) error {
	if sessionDirs, err := s.fs.List(ctx, url.Join(s.root, "msgqueue")); err == nil {
		for _, dir := range sessionDirs {
			if !dir.IsDir() {
				continue
			}
			msgs, _ := s.fs.List(ctx, dir.URL())
			for _, m := range msgs {
				if id, err := strconv.ParseUint(strings.TrimSuffix(m.Name(), ".json"), 10, 64); err == nil && id > s.msgSeq {
					s.msgSeq = id
				}
			}
		}
	}
	objects, err := s.fs.List(ctx, url.Join(s.root, "token"))
	if err != nil {
		return nil // empty tree on first run
	}
	for _, obj := range objects {
		if obj.IsDir() {
			continue
		}
		data, err := s.fs.DownloadWithURL(ctx, obj.URL())
		if err != nil {
			continue
		}
		t := &storage.AccessToken{}
		if err := json.Unmarshal(data, t); err != nil {
			continue
		}
		if t.RefreshToken != "" {
			if plain, err := s.cipher.Decrypt(t.RefreshToken); err == nil {
				s.byRefresh[string(plain)] = t.AccessToken
			}
		}
	}
	return nil
}

func (s *Store) objectURL(kind, id string) string {
	return url.Join(s.root, kind, id+".json")
}

func (s *Store) writeJSON(ctx context.Context, kind, id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.fs.Upload(ctx, s.objectURL(kind, id), 0644, bytes.NewReader(data))
}

func (s *Store) readJSON(ctx context.Context, kind, id string, v interface{}) (bool, error) {
	exists, err := s.fs.Exists(ctx, s.objectURL(kind, id))
	if err != nil || !exists {
		return false, err
	}
	data, err := s.fs.DownloadWithURL(ctx, s.objectURL(kind, id))
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	sess := &storage.Session{}
	ok, err := s.readJSON(ctx, "session", id, sess)
	if err != nil || !ok {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		return nil, nil
	}
	return sess, nil
}

func (s *Store) StoreSession(ctx context.Context, sess *storage.Session, ttl time.Duration) error {
	cp := *sess
	if ttl > 0 {
		cp.ExpiresAt = time.Now().Add(ttl)
	}
	return s.writeJSON(ctx, "session", sess.Id, &cp)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.fs.Delete(ctx, s.objectURL("session", id))
}

func (s *Store) GetMessages(ctx context.Context, sessionId string) ([]*storage.MessageEntry, error) {
	objects, err := s.fs.List(ctx, url.Join(s.root, "msgqueue", sessionId))
	if err != nil {
		return nil, nil
	}
	var out []*storage.MessageEntry
	for _, obj := range objects {
		if obj.IsDir() {
			continue
		}
		data, err := s.fs.DownloadWithURL(ctx, obj.URL())
		if err != nil {
			continue
		}
		m := &storage.MessageEntry{}
		if err := json.Unmarshal(data, m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) StoreMessage(ctx context.Context, sessionId string, data []byte, msgCtx map[string]interface{}) (*storage.MessageEntry, error) {
	s.mu.Lock()
	s.msgSeq++
	id := s.msgSeq
	s.mu.Unlock()

	m := &storage.MessageEntry{
		Id:        id,
		SessionId: sessionId,
		Data:      data,
		Context:   msgCtx,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	msgURL := url.Join(s.root, "msgqueue", sessionId, fmt.Sprint(id)+".json")
	if err := s.fs.Upload(ctx, msgURL, 0644, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) DeleteMessage(ctx context.Context, msgId uint64) error {
	objects, err := s.fs.List(ctx, url.Join(s.root, "msgqueue"))
	if err != nil {
		return nil
	}
	name := fmt.Sprint(msgId) + ".json"
	for _, sessionDir := range objects {
		if !sessionDir.IsDir() {
			continue
		}
		candidate := url.Join(sessionDir.URL(), name)
		if exists, _ := s.fs.Exists(ctx, candidate); exists {
			return s.fs.Delete(ctx, candidate)
		}
	}
	return nil
}

func (s *Store) ValidateToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	t, err := s.getToken(ctx, token)
	if err != nil || t == nil || !t.Valid() {
		return nil, err
	}
	return t, nil
}

func (s *Store) getToken(ctx context.Context, accessToken string) (*storage.AccessToken, error) {
	t := &storage.AccessToken{}
	ok, err := s.readJSON(ctx, "token", accessToken, t)
	if err != nil || !ok {
		return nil, err
	}
	if t.RefreshToken != "" {
		if plain, err := s.cipher.Decrypt(t.RefreshToken); err == nil {
			t.RefreshToken = string(plain)
		}
	}
	return t, nil
}

func (s *Store) GetContextData(ctx context.Context, contextId, contextType string) (*storage.TenantContext, error) {
	c := &storage.TenantContext{}
	ok, err := s.readJSON(ctx, "context", contextId, c)
	if err != nil || !ok {
		return nil, err
	}
	if contextType != "" && c.Type != contextType {
		return nil, nil
	}
	return c, nil
}

func (s *Store) GetOAuthClient(ctx context.Context, clientId string) (*storage.OAuthClient, error) {
	c := &storage.OAuthClient{}
	ok, err := s.readJSON(ctx, "client", clientId, c)
	if err != nil || !ok {
		return nil, err
	}
	if c.ClientSecret != "" {
		if plain, err := s.cipher.Decrypt(c.ClientSecret); err == nil {
			c.ClientSecret = string(plain)
		}
	}
	return c, nil
}

func (s *Store) StoreOAuthClient(ctx context.Context, c *storage.OAuthClient) error {
	cp := *c
	if cp.ClientSecret != "" {
		enc, err := s.cipher.Encrypt([]byte(cp.ClientSecret))
		if err != nil {
			return err
		}
		cp.ClientSecret = enc
	}
	return s.writeJSON(ctx, "client", c.ClientId, &cp)
}

func (s *Store) StoreAuthorizationCode(ctx context.Context, code string, rec *storage.AuthorizationCode) error {
	return s.writeJSON(ctx, "code", code, rec)
}

func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &storage.AuthorizationCode{}
	ok, err := s.readJSON(ctx, "code", code, rec)
	if err != nil {
		return nil, err
	}
	if !ok || rec.Consumed || rec.Expired() {
		return nil, storage.ErrNotFound
	}
	rec.Consumed = true
	if err := s.writeJSON(ctx, "code", code, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) StoreAccessToken(ctx context.Context, rec *storage.AccessToken) error {
	cp := *rec
	plainRefresh := cp.RefreshToken
	if plainRefresh != "" {
		enc, err := s.cipher.Encrypt([]byte(plainRefresh))
		if err != nil {
			return err
		}
		cp.RefreshToken = enc
	}
	if err := s.writeJSON(ctx, "token", rec.AccessToken, &cp); err != nil {
		return err
	}
	if plainRefresh != "" {
		s.mu.Lock()
		s.byRefresh[plainRefresh] = rec.AccessToken
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) RevokeToken(ctx context.Context, token string) error {
	if t, err := s.getToken(ctx, token); err == nil && t != nil {
		return s.markRevoked(ctx, t)
	}
	s.mu.Lock()
	access, ok := s.byRefresh[token]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	t, err := s.getToken(ctx, access)
	if err != nil || t == nil {
		return err
	}
	return s.markRevoked(ctx, t)
}

func (s *Store) RevokeTokenPair(ctx context.Context, accessToken, refreshToken string) error {
	if err := s.RevokeToken(ctx, accessToken); err != nil {
		return err
	}
	return s.RevokeToken(ctx, refreshToken)
}

func (s *Store) markRevoked(ctx context.Context, t *storage.AccessToken) error {
	t.Revoked = true
	cp := *t
	if cp.RefreshToken != "" {
		enc, err := s.cipher.Encrypt([]byte(cp.RefreshToken))
		if err != nil {
			return err
		}
		cp.RefreshToken = enc
	}
	return s.writeJSON(ctx, "token", t.AccessToken, &cp)
}

func (s *Store) GetAccessTokenByRefresh(ctx context.Context, refreshToken string) (*storage.AccessToken, error) {
	s.mu.Lock()
	access, ok := s.byRefresh[refreshToken]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return s.getToken(ctx, access)
}

func (s *Store) StoreOAuthRequest(ctx context.Context, id string, req *storage.OAuthRequest) error {
	return s.writeJSON(ctx, "oauthreq", id, req)
}

func (s *Store) GetOAuthRequest(ctx context.Context, id string) (*storage.OAuthRequest, error) {
	req := &storage.OAuthRequest{}
	ok, err := s.readJSON(ctx, "oauthreq", id, req)
	if err != nil || !ok {
		return nil, err
	}
	return req, nil
}

func (s *Store) DeleteOAuthRequest(ctx context.Context, id string) error {
	return s.fs.Delete(ctx, s.objectURL("oauthreq", id))
}

func (s *Store) StoreSamplingResponse(ctx context.Context, requestId string, payload []byte) error {
	return s.storeCorrelation(ctx, requestId, payload)
}

func (s *Store) StoreRootsResponse(ctx context.Context, requestId string, payload []byte) error {
	return s.storeCorrelation(ctx, requestId, payload)
}

func (s *Store) storeCorrelation(ctx context.Context, requestId string, payload []byte) error {
	entry := &storage.CorrelationEntry{RequestId: requestId, Payload: payload, CreatedAt: time.Now()}
	return s.writeJSON(ctx, "correlation", requestId, entry)
}

func (s *Store) GetCorrelationResponse(ctx context.Context, requestId string) (*storage.CorrelationEntry, error) {
	entry := &storage.CorrelationEntry{}
	ok, err := s.readJSON(ctx, "correlation", requestId, entry)
	if err != nil || !ok {
		return nil, err
	}
	return entry, nil
}

// Cleanup walks the session, code and token directories and removes expired
// or consumed entries, since afs has no native TTL primitive.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	removed := 0
	now := time.Now()

	sessions, _ := s.fs.List(ctx, url.Join(s.root, "session"))
	for _, obj := range sessions {
		if obj.IsDir() {
			continue
		}
		sess := &storage.Session{}
		data, err := s.fs.DownloadWithURL(ctx, obj.URL())
		if err != nil || json.Unmarshal(data, sess) != nil {
			continue
		}
		if now.After(sess.ExpiresAt) {
			if err := s.fs.Delete(ctx, obj.URL()); err == nil {
				removed++
			}
		}
	}

	codes, _ := s.fs.List(ctx, url.Join(s.root, "code"))
	for _, obj := range codes {
		if obj.IsDir() {
			continue
		}
		rec := &storage.AuthorizationCode{}
		data, err := s.fs.DownloadWithURL(ctx, obj.URL())
		if err != nil || json.Unmarshal(data, rec) != nil {
			continue
		}
		if rec.Consumed || rec.Expired() {
			if err := s.fs.Delete(ctx, obj.URL()); err == nil {
				removed++
			}
		}
	}

	tokens, _ := s.fs.List(ctx, url.Join(s.root, "token"))
	for _, obj := range tokens {
		if obj.IsDir() {
			continue
		}
		rec := &storage.AccessToken{}
		data, err := s.fs.DownloadWithURL(ctx, obj.URL())
		if err != nil || json.Unmarshal(data, rec) != nil {
			continue
		}
		if rec.Revoked || now.After(rec.ExpiresAt) {
			if err := s.fs.Delete(ctx, obj.URL()); err == nil {
				removed++
				s.mu.Lock()
				if plain, err := s.cipher.Decrypt(rec.RefreshToken); err == nil {
					delete(s.byRefresh, string(plain))
				}
				s.mu.Unlock()
			}
		}
	}
	return removed, nil
}

var _ storage.Storage = (*Store)(nil)
