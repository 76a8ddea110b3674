package oauthlink

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// TokenSealer encrypts token strings before a store writes them
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// SecretboxSealer seals with NaCl secretbox under a 32 byte key. Output is
// base64(nonce || box).
type SecretboxSealer struct {
	key [32]byte
}

// NewSecretboxSealer takes the key as 64 hex characters
func NewSecretboxSealer(hexKey string) (*SecretboxSealer, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid seal key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("invalid seal key: want 32 bytes, got %d", len(raw))
	}
	s := &SecretboxSealer{}
	copy(s.key[:], raw)
	return s, nil
}

func (s *SecretboxSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return base64.RawStdEncoding.EncodeToString(out), nil
}

func (s *SecretboxSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("malformed sealed token: %w", err)
	}
	if len(raw) < 24+secretbox.Overhead {
		return "", errors.New("malformed sealed token: too short")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return "", errors.New("sealed token failed authentication")
	}
	return string(plain), nil
}

// SealCredentials returns a copy of creds with token fields sealed. A nil
// sealer returns creds unchanged.
func SealCredentials(s TokenSealer, creds []Credential) ([]Credential, error) {
	return mapTokens(creds, s, func(s TokenSealer, v string) (string, error) { return s.Seal(v) })
}

// OpenCredentials reverses SealCredentials
func OpenCredentials(s TokenSealer, creds []Credential) ([]Credential, error) {
	return mapTokens(creds, s, func(s TokenSealer, v string) (string, error) { return s.Open(v) })
}

func mapTokens(creds []Credential, s TokenSealer, f func(TokenSealer, string) (string, error)) ([]Credential, error) {
	if s == nil || creds == nil {
		return creds, nil
	}
	out := make([]Credential, len(creds))
	for i, c := range creds {
		var err error
		if c.AccessToken, err = f(s, c.AccessToken); err != nil {
			return nil, err
		}
		if c.RefreshToken, err = f(s, c.RefreshToken); err != nil {
			return nil, err
		}
		if c.TokenSecret, err = f(s, c.TokenSecret); err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
