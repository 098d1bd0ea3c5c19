// Package redisstore implements storage.Storage over Redis, generalizing
// transport/server/auth/redis_store.go's TTL/rotation pattern from a single
// BFF grant type to the full session/message/OAuth-artifact contract of
// spec.md §6.4.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/fernmcp/hostd/internal/secretcipher"
	"github.com/fernmcp/hostd/storage"
)

// Store is a Redis-backed storage.Storage.
type Store struct {
	rdb    *redis.Client
	prefix string
	cipher secretcipher.Cipher
	msgSeq *redis.Client // never set or used; message ids come from INCR on the msgseq key
}

// New creates a Redis-backed store. cipher may be secretcipher.Noop{} for
// local/dev deployments that accept plaintext secrets at rest.
func New(rdb *redis.Client, prefix string, cipher secretcipher.Cipher) *Store {
	if prefix == "" {
		prefix = "hostd:"
	}
	if cipher == nil {
		cipher = secretcipher.Noop{}
	}
	return &Store{rdb: rdb, prefix: prefix, cipher: cipher}
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += p + ":"
	}
	return k[:len(k)-1]
}

func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	raw, err := s.rdb.Get(ctx, s.key("session", id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	sess := &storage.Session{}
	if err := json.Unmarshal(raw, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) StoreSession(ctx context.Context, sess *storage.Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key("session", sess.Id), data, ttl).Err()
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.key("session", id)).Err()
}

func (s *Store) GetMessages(ctx context.Context, sessionId string) ([]*storage.MessageEntry, error) {
	ids, err := s.rdb.LRange(ctx, s.key("msgqueue", sessionId), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var out []*storage.MessageEntry
	for _, idStr := range ids {
		raw, err := s.rdb.Get(ctx, s.key("msg", idStr)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		m := &storage.MessageEntry{}
		if err := json.Unmarshal(raw, m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) StoreMessage(ctx context.Context, sessionId string, data []byte, msgCtx map[string]interface{}) (*storage.MessageEntry, error) {
	id, err := s.rdb.Incr(ctx, s.key("msgseq")).Result()
	if err != nil {
		return nil, err
	}
	m := &storage.MessageEntry{
		Id:        uint64(id),
		SessionId: sessionId,
		Data:      data,
		Context:   msgCtx,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.key("msg", fmt.Sprint(m.Id)), raw, 0)
	pipe.RPush(ctx, s.key("msgqueue", sessionId), fmt.Sprint(m.Id))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) DeleteMessage(ctx context.Context, msgId uint64) error {
	return s.rdb.Del(ctx, s.key("msg", fmt.Sprint(msgId))).Err()
}

func (s *Store) ValidateToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	t, err := s.getToken(ctx, token)
	if err != nil || t == nil || !t.Valid() {
		return nil, err
	}
	return t, nil
}

func (s *Store) getToken(ctx context.Context, accessToken string) (*storage.AccessToken, error) {
	raw, err := s.rdb.Get(ctx, s.key("token", accessToken)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	t := &storage.AccessToken{}
	if err := json.Unmarshal(raw, t); err != nil {
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
	raw, err := s.rdb.Get(ctx, s.key("context", contextId)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	c := &storage.TenantContext{}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, err
	}
	if contextType != "" && c.Type != contextType {
		return nil, nil
	}
	return c, nil
}

func (s *Store) GetOAuthClient(ctx context.Context, clientId string) (*storage.OAuthClient, error) {
	raw, err := s.rdb.Get(ctx, s.key("client", clientId)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	c := &storage.OAuthClient{}
	if err := json.Unmarshal(raw, c); err != nil {
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
	data, err := json.Marshal(&cp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key("client", c.ClientId), data, 0).Err()
}

func (s *Store) StoreAuthorizationCode(ctx context.Context, code string, rec *storage.AuthorizationCode) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return s.rdb.Set(ctx, s.key("code", code), data, ttl).Err()
}

func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	key := s.key("code", code)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	rec := &storage.AuthorizationCode{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, err
	}
	if rec.Consumed || rec.Expired() {
		return nil, storage.ErrNotFound
	}
	claimed, err := s.rdb.SetNX(ctx, s.key("consumed", code), 1, time.Until(rec.ExpiresAt)+time.Minute).Result()
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, storage.ErrNotFound
	}
	rec.Consumed = true
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := s.rdb.Set(ctx, key, data, time.Minute).Err(); err != nil {
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
	data, err := json.Marshal(&cp)
	if err != nil {
		return err
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Hour
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.key("token", rec.AccessToken), data, ttl)
	if plainRefresh != "" {
		pipe.Set(ctx, s.key("refresh", plainRefresh), rec.AccessToken, ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) RevokeToken(ctx context.Context, token string) error {
	if t, err := s.getToken(ctx, token); err == nil && t != nil {
		return s.markRevoked(ctx, t)
	}
	access, err := s.rdb.Get(ctx, s.key("refresh", token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
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
	data, err := json.Marshal(&cp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key("token", t.AccessToken), data, time.Hour).Err()
}

func (s *Store) GetAccessTokenByRefresh(ctx context.Context, refreshToken string) (*storage.AccessToken, error) {
	access, err := s.rdb.Get(ctx, s.key("refresh", refreshToken)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return s.getToken(ctx, access)
}

func (s *Store) StoreOAuthRequest(ctx context.Context, id string, req *storage.OAuthRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key("oauthreq", id), data, 10*time.Minute).Err()
}

func (s *Store) GetOAuthRequest(ctx context.Context, id string) (*storage.OAuthRequest, error) {
	raw, err := s.rdb.Get(ctx, s.key("oauthreq", id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	req := &storage.OAuthRequest{}
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Store) DeleteOAuthRequest(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.key("oauthreq", id)).Err()
}

func (s *Store) StoreSamplingResponse(ctx context.Context, requestId string, payload []byte) error {
	return s.storeCorrelation(ctx, requestId, payload)
}

func (s *Store) StoreRootsResponse(ctx context.Context, requestId string, payload []byte) error {
	return s.storeCorrelation(ctx, requestId, payload)
}

func (s *Store) storeCorrelation(ctx context.Context, requestId string, payload []byte) error {
	entry := &storage.CorrelationEntry{RequestId: requestId, Payload: payload, CreatedAt: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key("correlation", requestId), data, 10*time.Minute).Err()
}

func (s *Store) GetCorrelationResponse(ctx context.Context, requestId string) (*storage.CorrelationEntry, error) {
	raw, err := s.rdb.Get(ctx, s.key("correlation", requestId)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	entry := &storage.CorrelationEntry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Cleanup is a no-op that returns 0: sessions, codes and tokens expire
// through the TTLs they were stored with. Message keys and per-session
// queue lists carry no TTL and are not swept.
func (s *Store) Cleanup(_ context.Context) (int, error) {
	return 0, nil
}

var _ storage.Storage = (*Store)(nil)
