// Package tokenstore keeps per-user exchange tokens encrypted at rest.
// The file holds a single AES-256-GCM sealed blob; the key is derived
// from the process-wide secret with PBKDF2. Plaintext tokens never
// appear in logs.
package tokenstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"deriv_trading/internal/models"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 100_000
	keyLen        = 32 // AES-256
)

// The salt is fixed: the secret is process-wide, not per-user, and the
// store must decrypt its own file across restarts.
var kdfSalt = []byte("deriv_trading.tokenstore.v1")

// Store is a small encrypted map of user id -> API token.
type Store struct {
	path string
	key  []byte

	mu     sync.Mutex
	tokens map[string]string
}

// Open derives the key and loads the existing file, if any.
func Open(path, secret string) (*Store, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: token store secret is empty", models.ErrConfig)
	}
	s := &Store{
		path:   path,
		key:    pbkdf2.Key([]byte(secret), kdfSalt, kdfIterations, keyLen, sha256.New),
		tokens: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Put stores or replaces a user's token and persists immediately.
func (s *Store) Put(userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = token
	return s.save()
}

// Get returns the stored token for a user.
func (s *Store) Get(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[userID]
	return tok, ok
}

// Delete removes a user's token and persists.
func (s *Store) Delete(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, userID)
	return s.save()
}

// Count reports the number of stored tokens.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *Store) load() error {
	blob, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read token store: %w", err)
	}

	plain, err := s.open(blob)
	if err != nil {
		return fmt.Errorf("%w: token store: %v", models.ErrIntegrity, err)
	}
	if err := json.Unmarshal(plain, &s.tokens); err != nil {
		return fmt.Errorf("%w: token store payload: %v", models.ErrIntegrity, err)
	}
	return nil
}

// save seals the map and replaces the file atomically.
func (s *Store) save() error {
	plain, err := json.Marshal(s.tokens)
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}
	blob, err := s.seal(plain)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("write token store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) seal(plain []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func (s *Store) open(blob []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("blob shorter than nonce")
	}
	nonce, sealed := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

func (s *Store) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
