package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealedPrefix = "sealed:v1:"

var ErrNoSealKey = errors.New("credential: sealed key found but no seal key configured")

// Sealer encrypts stored API keys with XChaCha20-Poly1305. A nil Sealer
// passes plain keys through and refuses sealed ones.
type Sealer struct {
	key []byte
}

// NewSealer derives the AEAD key from secret. An empty secret yields nil.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, nil
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("chat-relay api key seal"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return &Sealer{key: key}, nil
}

func IsSealed(s string) bool {
	return strings.HasPrefix(s, sealedPrefix)
}

func (s *Sealer) Seal(plain string) (string, error) {
	if s == nil {
		return "", ErrNoSealKey
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open returns stored verbatim unless it carries the sealed prefix.
func (s *Sealer) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	if s == nil {
		return "", ErrNoSealKey
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("credential: decode sealed key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("credential: sealed key too short")
	}
	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("credential: open sealed key: %w", err)
	}
	return string(plain), nil
}
