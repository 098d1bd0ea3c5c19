package main

import (
	"context"
	"testing"

	"github.com/fernmcp/hostd/storage/memstore"
)

func TestOpenStoreMemoryDefault(t *testing.T) {
	prev := serveStore
	serveStore = ""
	defer func() { serveStore = prev }()

	store, err := openStore(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*memstore.Store); !ok {
		t.Fatalf("expected memstore.Store for empty --store, got %T", store)
	}
}

func TestOpenStoreUnknownBackendRejected(t *testing.T) {
	prev := serveStore
	serveStore = "carrier-pigeon"
	defer func() { serveStore = prev }()

	if _, err := openStore(context.Background(), nil); err == nil {
		t.Fatalf("expected error for unknown store backend")
	}
}

func TestOpenCipherDefaultsToNoop(t *testing.T) {
	prev := serveSecretRes
	serveSecretRes = ""
	defer func() { serveSecretRes = prev }()

	cipher, err := openCipher(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	encoded, err := cipher.Encrypt([]byte("plain"))
	if err != nil {
		t.Fatalf("unexpected encrypt error: %v", err)
	}
	if encoded != "plain" {
		t.Fatalf("expected Noop cipher to pass through plaintext, got %q", encoded)
	}
}
