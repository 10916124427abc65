// Package vault encrypts and decrypts per-tenant LLM provider credentials
// at rest. Every tenant may bring its own API key for its chosen provider;
// the vault file holds them scrypt+AES-GCM encrypted under one operator
// password, the same scheme the teacher uses for its project secrets file.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = 12
	scryptN   = 32768 // 2^15
	scryptR   = 8
	scryptP   = 1
	keySize   = 32 // AES-256
)

// Credential is one tenant's LLM provider binding.
type Credential struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model,omitempty"`
}

// Store is the decrypted, in-memory form of the vault: tenant id -> credential.
type Store map[string]Credential

// Encrypt serializes store to JSON, encrypts it under password, and writes
// it to path with 0600 permissions.
func Encrypt(path, password string, store Store) error {
	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("vault: generate salt: %w", err)
	}

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return fmt.Errorf("vault: derive key: %w", err)
	}
	defer zero(key)

	plaintext, err := json.Marshal(store)
	if err != nil {
		return fmt.Errorf("vault: marshal store: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("vault: create gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("vault: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	if err := os.WriteFile(path, fileData, 0o600); err != nil {
		return fmt.Errorf("vault: write file: %w", err)
	}
	return nil
}

// Decrypt reads path, decrypts it under password, and returns the store.
func Decrypt(path, password string) (Store, error) {
	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vault: read file: %w", err)
	}

	minSize := saltSize + nonceSize + 16 // GCM tag size
	if len(fileData) < minSize {
		return nil, fmt.Errorf("vault: file is corrupted or invalid (too small)")
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	key, err := scrypt.Key(passwordBytes, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt (wrong password or corrupted file): %w", err)
	}

	var store Store
	if err := json.Unmarshal(plaintext, &store); err != nil {
		return nil, fmt.Errorf("vault: parse store: %w", err)
	}
	return store, nil
}

// Exists reports whether a vault file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
