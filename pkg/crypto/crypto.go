package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyPrefix = "sk_"

var ErrMalformedKey = errors.New("malformed api key")

// APIKey is a selector:verifier credential. The selector is stored in clear
// and indexed; only the bcrypt hash of the verifier is stored.
type APIKey struct {
	Selector     string
	Verifier     string
	VerifierHash string
	Token        string // handed to the provider once
}

// GenerateAPIKey issues a new provider API key.
func GenerateAPIKey() (*APIKey, error) {
	selector, err := randomHex(12)
	if err != nil {
		return nil, fmt.Errorf("failed to generate selector: %w", err)
	}
	verifier, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate verifier: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(verifier), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash verifier: %w", err)
	}
	return &APIKey{
		Selector:     selector,
		Verifier:     verifier,
		VerifierHash: string(hash),
		Token:        apiKeyPrefix + selector + ":" + verifier,
	}, nil
}

// ParseAPIKey splits a presented token into selector and verifier.
func ParseAPIKey(token string) (selector, verifier string, err error) {
	token = strings.TrimPrefix(strings.TrimSpace(token), apiKeyPrefix)
	selector, verifier, ok := strings.Cut(token, ":")
	if !ok || selector == "" || verifier == "" {
		return "", "", ErrMalformedKey
	}
	return selector, verifier, nil
}

// VerifyAPIKey compares a presented verifier with the stored hash.
func VerifyAPIKey(verifier, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(verifier)) == nil
}

// GenerateSecret returns n random bytes hex encoded.
func GenerateSecret(n int) (string, error) {
	s, err := randomHex(n)
	if err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return s, nil
}

// Encrypt seals data with AES-256-GCM under a key derived from key. The
// output is hex(nonce || ciphertext).
func Encrypt(data, key string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to create nonce: %w", err)
	}
	return hex.EncodeToString(gcm.Seal(nonce, nonce, []byte(data), nil)), nil
}

// Decrypt reverses Encrypt.
func Decrypt(encryptedHex, key string) (string, error) {
	raw, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return "", fmt.Errorf("failed to decode hex: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key string) (cipher.AEAD, error) {
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
