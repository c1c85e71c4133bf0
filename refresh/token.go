package refresh

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// SecretSize is the number of random bytes behind every refresh token.
const SecretSize = 32

// Token is the server-side record of an issued refresh token.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Expired reports whether the token is past ExpiresAt at now.
func (t *Token) Expired(now time.Time) bool {
	return t == nil || !now.Before(t.ExpiresAt)
}

// NewSecret returns a fresh opaque token value: [SecretSize] random bytes,
// base64url without padding.
func NewSecret() (string, error) {
	var raw [SecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidSecret reports whether s has the shape produced by [NewSecret]. It is a
// cheap pre-filter so garbage never reaches the store.
func ValidSecret(s string) bool {
	if len(s) != base64.RawURLEncoding.EncodedLen(SecretSize) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}

func encode(t *Token) ([]byte, error) {
	if t == nil || t.Token == "" || t.SessionID == "" || t.UserID == "" {
		return nil, errors.New("refresh token record is incomplete")
	}
	return json.Marshal(t)
}

func decode(data []byte) (*Token, error) {
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if t.Token == "" || t.SessionID == "" || t.UserID == "" {
		return nil, errors.New("refresh token record is incomplete")
	}
	return &t, nil
}
