package userstore

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MrEthical07/deskauth"
	"github.com/MrEthical07/deskauth/password"
	"github.com/google/uuid"
)

type memoryRecord struct {
	user deskauth.User
	hash string
}

// Memory is an in-process [deskauth.UserProvider] for development, tests and
// the load generator. Passwords are kept as Argon2id hashes.
type Memory struct {
	hasher *password.Hasher

	mu      sync.RWMutex
	byEmail map[string]memoryRecord
	byID    map[string]string
}

// NewMemory returns an empty store hashing with hasher.
func NewMemory(hasher *password.Hasher) *Memory {
	return &Memory{
		hasher:  hasher,
		byEmail: make(map[string]memoryRecord),
		byID:    make(map[string]string),
	}
}

// Add stores a user with the given plaintext password. An empty u.ID gets a
// UUIDv7. Adding an existing email replaces that user.
func (m *Memory) Add(u deskauth.User, plain string) (deskauth.User, error) {
	u.Email = NormalizeEmail(u.Email)
	if u.Email == "" {
		return deskauth.User{}, errors.New("userstore: email is required")
	}
	if u.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return deskauth.User{}, err
		}
		u.ID = id.String()
	}

	hash, err := m.hasher.Hash(plain)
	if err != nil {
		return deskauth.User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.byEmail[u.Email]; ok {
		delete(m.byID, prev.user.ID)
	}
	m.byEmail[u.Email] = memoryRecord{user: u, hash: hash}
	m.byID[u.ID] = u.Email
	return u, nil
}

// Remove deletes the user with userID. Unknown ids are ignored.
func (m *Memory) Remove(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if email, ok := m.byID[userID]; ok {
		delete(m.byEmail, email)
		delete(m.byID, userID)
	}
}

// SetRole changes the role of userID.
func (m *Memory) SetRole(userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email, ok := m.byID[userID]
	if !ok {
		return deskauth.ErrUserNotFound
	}
	rec := m.byEmail[email]
	rec.user.Role = role
	m.byEmail[email] = rec
	return nil
}

func (m *Memory) GetUser(_ context.Context, email, plain string) (deskauth.User, error) {
	m.mu.RLock()
	rec, ok := m.byEmail[NormalizeEmail(email)]
	m.mu.RUnlock()

	if !ok {
		m.hasher.VerifyMissing(plain)
		return deskauth.User{}, deskauth.ErrUserNotFound
	}
	return checkPassword(m.hasher, rec.user, rec.hash, plain)
}

func (m *Memory) GetByID(_ context.Context, userID string) (deskauth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email, ok := m.byID[userID]
	if !ok {
		return deskauth.User{}, deskauth.ErrUserNotFound
	}
	return m.byEmail[email].user, nil
}

// checkPassword maps a hash comparison onto the UserProvider error contract.
// Passwords outside the accepted length are wrong credentials, not outages.
func checkPassword(hasher *password.Hasher, u deskauth.User, hash, plain string) (deskauth.User, error) {
	ok, err := hasher.Verify(plain, hash)
	switch {
	case errors.Is(err, password.ErrPasswordLength):
		return deskauth.User{}, deskauth.ErrInvalidCredentials
	case err != nil:
		return deskauth.User{}, err
	case !ok:
		return deskauth.User{}, deskauth.ErrInvalidCredentials
	}
	return u, nil
}

// NormalizeEmail lowercases and trims an email the same way lockout keys do.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
