// Package secretcipher encrypts OAuth client secrets and refresh tokens
// before a durable storage.Storage backend (redisstore, fileblob) writes
// them, so a compromised Redis/file medium does not leak plaintext secrets.
//
// The master key is fetched the same way the teacher's stdio client fetches
// SSH credentials: via a viant/scy secret.Resource lookup, generalized from
// an SSH credential to a generic one holding the AES key material.
package secretcipher

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/viant/scy/cred/secret"
)

// Cipher encrypts/decrypts opaque byte payloads for at-rest storage.
type Cipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

// Noop performs no encryption; used by the in-memory backend where the
// process's own memory is the only at-rest medium.
type Noop struct{}

func (Noop) Encrypt(plaintext []byte) (string, error) { return string(plaintext), nil }
func (Noop) Decrypt(ciphertext string) ([]byte, error) { return []byte(ciphertext), nil }

// AESGCM is an AES-256-GCM Cipher. Ciphertexts are base64url(nonce||sealed).
type AESGCM struct {
	gcm cipher.AEAD
}

// NewAESGCM builds an AESGCM cipher from a 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, errors.New("secretcipher: key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{gcm: gcm}, nil
}

// NewAESGCMFromSecretResource loads the key from a viant/scy credential
// resource (e.g. a local file URL or vault path managed outside this
// process), following transport/client/stdio/client.go's
// secret.New().GetCredentials(ctx, resource) pattern. The resource is
// expected to hold a generic username/password credential whose Password
// field, base64-decoded, is the 32-byte AES key.
func NewAESGCMFromSecretResource(ctx context.Context, resource string) (*AESGCM, error) {
	svc := secret.New()
	cred, err := svc.GetCredentials(ctx, resource)
	if err != nil {
		return nil, fmt.Errorf("secretcipher: failed to load key material: %w", err)
	}
	if cred == nil || cred.Generic == nil || cred.Generic.Password == "" {
		return nil, errors.New("secretcipher: secret resource has no generic password")
	}
	key, err := base64.StdEncoding.DecodeString(cred.Generic.Password)
	if err != nil {
		return nil, fmt.Errorf("secretcipher: key material is not base64: %w", err)
	}
	return NewAESGCM(key)
}

func (c *AESGCM) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

func (c *AESGCM) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, err
	}
	nonceSize := c.gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, errors.New("secretcipher: ciphertext too short")
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	return c.gcm.Open(nil, nonce, sealed, nil)
}
