// Package auth guards the HTTP API with API keys.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of generated API keys in bytes (will be hex encoded)
	APIKeyLength = 32
	// BcryptCost is the bcrypt cost factor for stored key hashes
	BcryptCost = 12

	// hashSettingKey holds the bcrypt hash of the generated API key
	hashSettingKey = "web.api_key_hash"
)

// SettingsStore is the settings table
type SettingsStore interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	DeleteSetting(key string) error
}

// KeyService validates API keys. A key from the config file is compared directly; a
// generated key is only stored as a bcrypt hash.
type KeyService struct {
	store     SettingsStore
	staticKey string

	mu       sync.Mutex
	verified map[[sha256.Size]byte]struct{}
}

// NewKeyService creates a key service. staticKey may be empty.
func NewKeyService(store SettingsStore, staticKey string) *KeyService {
	return &KeyService{
		store:     store,
		staticKey: staticKey,
		verified:  make(map[[sha256.Size]byte]struct{}),
	}
}

// GenerateAPIKey creates a new cryptographically secure API key
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Enabled reports whether any key is configured. Without one the API is open.
func (s *KeyService) Enabled() bool {
	if s.staticKey != "" {
		return true
	}
	hash, _ := s.store.GetSetting(hashSettingKey)
	return hash != ""
}

// Rotate generates a new key, stores its hash, and returns the plain key. The plain key
// cannot be recovered later.
func (s *KeyService) Rotate() (string, error) {
	key, err := GenerateAPIKey()
	if err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	if err := s.store.SetSetting(hashSettingKey, string(hash)); err != nil {
		return "", err
	}

	s.mu.Lock()
	clear(s.verified)
	s.mu.Unlock()

	return key, nil
}

// Revoke removes the generated key
func (s *KeyService) Revoke() error {
	s.mu.Lock()
	clear(s.verified)
	s.mu.Unlock()
	return s.store.DeleteSetting(hashSettingKey)
}

// Validate reports whether key is the configured or the generated API key
func (s *KeyService) Validate(key string) bool {
	if key == "" {
		return false
	}
	if s.staticKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(s.staticKey)) == 1 {
		return true
	}

	hash, err := s.store.GetSetting(hashSettingKey)
	if err != nil || hash == "" {
		return false
	}

	// bcrypt is slow on purpose; remember keys that already matched the current hash
	digest := sha256.Sum256([]byte(hash + "\x00" + key))
	s.mu.Lock()
	_, ok := s.verified[digest]
	s.mu.Unlock()
	if ok {
		return true
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
		return false
	}

	s.mu.Lock()
	s.verified[digest] = struct{}{}
	s.mu.Unlock()
	return true
}
