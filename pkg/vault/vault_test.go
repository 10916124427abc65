package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.bin")
	password := "test-password-12345"
	store := Store{
		"tenant-a": {Provider: "anthropic", APIKey: "sk-ant-test123", Model: "claude-sonnet-4"},
		"tenant-b": {Provider: "openai", APIKey: "sk-test-openai"},
	}

	if err := Encrypt(path, password, store); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat vault file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("permissions = %04o, want 0600", info.Mode().Perm())
	}

	decrypted, err := Decrypt(path, password)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if len(decrypted) != len(store) {
		t.Fatalf("got %d credentials, want %d", len(decrypted), len(store))
	}
	for id, want := range store {
		got, ok := decrypted[id]
		if !ok {
			t.Errorf("tenant %s missing from decrypted store", id)
			continue
		}
		if got != want {
			t.Errorf("tenant %s: got %+v, want %+v", id, got, want)
		}
	}
}

func TestDecryptWrongPasswordFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.bin")
	store := Store{"tenant-a": {Provider: "anthropic", APIKey: "sk-ant-test123"}}

	if err := Encrypt(path, "correct-password", store); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(path, "wrong-password"); err == nil {
		t.Error("expected error decrypting with wrong password, got nil")
	}
}

func TestDecryptCorruptedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.bin")
	if err := os.WriteFile(path, []byte("too short"), 0o600); err != nil {
		t.Fatalf("write corrupted file: %v", err)
	}

	if _, err := Decrypt(path, "any-password"); err == nil {
		t.Error("expected error decrypting corrupted file, got nil")
	}
}

func TestExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.bin")
	if Exists(path) {
		t.Error("Exists = true for a path with no file")
	}

	if err := Encrypt(path, "password", Store{}); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !Exists(path) {
		t.Error("Exists = false after Encrypt wrote the file")
	}
}
