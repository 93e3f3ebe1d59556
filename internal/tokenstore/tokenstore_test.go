package tokenstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.enc")
	s, err := Open(path, "hunter2-secret")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := s.Put("user-1", "a1-TOKEN"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok := s.Get("user-1")
	if !ok || got != "a1-TOKEN" {
		t.Errorf("Expected a1-TOKEN, got %q (%v)", got, ok)
	}

	// A fresh Store over the same file and secret sees the token.
	s2, err := Open(path, "hunter2-secret")
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	got, ok = s2.Get("user-1")
	if !ok || got != "a1-TOKEN" {
		t.Errorf("Persisted token lost: %q (%v)", got, ok)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.enc")
	s, err := Open(path, "right-secret")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Put("user-1", "tok"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, err := Open(path, "wrong-secret"); err == nil {
		t.Error("Opening with the wrong secret must fail authentication")
	}
}

func TestEmptySecretRejected(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "tokens.enc"), ""); err == nil {
		t.Error("Empty secret must be rejected")
	}
}

func TestTokenNotStoredInPlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.enc")
	s, err := Open(path, "secret")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	const token = "VERY-SECRET-TOKEN-VALUE"
	if err := s.Put("user-1", token); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if bytes.Contains(blob, []byte(token)) {
		t.Error("Token appears in plaintext on disk")
	}
	if bytes.Contains(blob, []byte("user-1")) {
		t.Error("User id appears in plaintext on disk")
	}
}

func TestDeleteRemovesToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.enc")
	s, err := Open(path, "secret")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s.Put("user-1", "tok-1")
	s.Put("user-2", "tok-2")
	if err := s.Delete("user-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	s2, err := Open(path, "secret")
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if _, ok := s2.Get("user-1"); ok {
		t.Error("Deleted token survived")
	}
	if got, ok := s2.Get("user-2"); !ok || got != "tok-2" {
		t.Error("Unrelated token lost on delete")
	}
	if s2.Count() != 1 {
		t.Errorf("Expected 1 token, got %d", s2.Count())
	}
}

func TestCorruptFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.enc")
	s, err := Open(path, "secret")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Put("user-1", "tok"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	blob, _ := os.ReadFile(path)
	blob[len(blob)-1] ^= 0xFF // flip one ciphertext bit
	os.WriteFile(path, blob, 0o600)

	if _, err := Open(path, "secret"); err == nil {
		t.Error("Tampered file must fail authentication")
	}
}
