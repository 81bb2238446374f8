package auth

import (
	"testing"
)

type memSettings map[string]string

func (m memSettings) GetSetting(key string) (string, error) { return m[key], nil }
func (m memSettings) SetSetting(key, value string) error    { m[key] = value; return nil }
func (m memSettings) DeleteSetting(key string) error        { delete(m, key); return nil }

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateAPIKey()
	if len(a) != APIKeyLength*2 || a == b {
		t.Errorf("unexpected keys %q %q", a, b)
	}
}

func TestKeyService_StaticKey(t *testing.T) {
	s := NewKeyService(memSettings{}, "secret")
	if !s.Enabled() {
		t.Error("static key should enable auth")
	}
	if !s.Validate("secret") {
		t.Error("static key should validate")
	}
	if s.Validate("wrong") || s.Validate("") {
		t.Error("wrong or empty key should not validate")
	}
}

func TestKeyService_RotateAndRevoke(t *testing.T) {
	store := memSettings{}
	s := NewKeyService(store, "")
	if s.Enabled() {
		t.Error("no key configured yet")
	}

	key, err := s.Rotate()
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if store[hashSettingKey] == "" || store[hashSettingKey] == key {
		t.Error("only the hash should be stored")
	}
	if !s.Enabled() || !s.Validate(key) {
		t.Error("generated key should validate")
	}
	// Second check takes the cached path
	if !s.Validate(key) {
		t.Error("cached key should validate")
	}

	next, err := s.Rotate()
	if err != nil {
		t.Fatal(err)
	}
	if s.Validate(key) {
		t.Error("old key should stop working after rotation")
	}
	if !s.Validate(next) {
		t.Error("new key should validate")
	}

	if err := s.Revoke(); err != nil {
		t.Fatal(err)
	}
	if s.Enabled() || s.Validate(next) {
		t.Error("revoked key should not validate")
	}
}
