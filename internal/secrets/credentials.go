// Package secrets encrypts and resolves broker login credentials so the
// terminal never needs a plaintext password on disk.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the encrypted-credentials JSON schema version.
	currentVersion = 1
)

// Credentials is a broker username/password pair.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// encryptedJSON is the on-disk format for encrypted credentials.
type encryptedJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// Config carries the information Resolve needs to obtain credentials.
// Populate the fields from the broker section of the terminal config.
type Config struct {
	// Username and Password, when set, are returned directly.
	Username string
	Password string

	// EncryptedPath is the path to a JSON file produced by Encrypt.
	EncryptedPath string

	// FilePassword decrypts the file at EncryptedPath.
	FilePassword string
}

// Encrypt encrypts credentials with a password using PBKDF2-HMAC-SHA256 key
// derivation and AES-256-GCM authenticated encryption. It returns the JSON
// blob suitable for writing to disk.
func Encrypt(creds Credentials, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("secrets: password must not be empty")
	}
	if creds.Username == "" {
		return nil, errors.New("secrets: username must not be empty")
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("secrets: encoding credentials: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("secrets: generating salt: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("secrets: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secrets: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := encryptedJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}

	return json.MarshalIndent(out, "", "  ")
}

// Decrypt decrypts a JSON blob produced by Encrypt.
func Decrypt(encrypted []byte, password string) (Credentials, error) {
	if password == "" {
		return Credentials{}, errors.New("secrets: password must not be empty")
	}

	var stored encryptedJSON
	if err := json.Unmarshal(encrypted, &stored); err != nil {
		return Credentials{}, fmt.Errorf("secrets: parsing encrypted credentials: %w", err)
	}
	if stored.Version != currentVersion {
		return Credentials{}, fmt.Errorf("secrets: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return Credentials{}, fmt.Errorf("secrets: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return Credentials{}, fmt.Errorf("secrets: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return Credentials{}, fmt.Errorf("secrets: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("secrets: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Credentials{}, fmt.Errorf("secrets: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("secrets: decryption failed (wrong password?): %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, fmt.Errorf("secrets: decoding credentials: %w", err)
	}
	return creds, nil
}

// Resolve returns credentials from the first available source: the inline
// username/password, then the encrypted file.
func Resolve(cfg Config) (Credentials, error) {
	if cfg.Username != "" {
		return Credentials{Username: cfg.Username, Password: cfg.Password}, nil
	}

	if cfg.EncryptedPath == "" {
		return Credentials{}, errors.New("secrets: no credential source configured")
	}

	data, err := os.ReadFile(cfg.EncryptedPath)
	if err != nil {
		return Credentials{}, fmt.Errorf("secrets: reading %s: %w", cfg.EncryptedPath, err)
	}
	return Decrypt(data, cfg.FilePassword)
}
