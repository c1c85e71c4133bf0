package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/deskauth/kv"
	"github.com/redis/go-redis/v9"
)

const (
	// TokenKeyPrefix namespaces by-token entries.
	TokenKeyPrefix = "auth_token:refresh_token:"
	// SessionKeyPrefix namespaces by-session pointers.
	SessionKeyPrefix = "auth_token:session_refresh_token:"
)

var (
	// ErrNotFound is returned when no live entry exists for a token or session.
	ErrNotFound = errors.New("refresh token not found")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("refresh token record corrupt")
)

// The previous token of the session is addressed by a key built inside the
// script, so this store requires a single Redis primary (see kv.Config).
const saveScript = `
local previous = redis.call("GET", KEYS[2])
if previous and previous ~= ARGV[2] then
  redis.call("DEL", ARGV[4] .. previous)
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
if previous then
  return 1
end
return 0
`

var saveLua = redis.NewScript(saveScript)

const deletePointerScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var deletePointerLua = redis.NewScript(deletePointerScript)

// Store reads and writes refresh-token records.
type Store struct {
	redis redis.UniversalClient
}

// NewStore creates a refresh-token store.
func NewStore(redisClient redis.UniversalClient) *Store {
	return &Store{redis: redisClient}
}

// Save persists t under both keys with ttl. Any other token previously saved
// for t.SessionID is deleted in the same script, so a session never has two
// live refresh tokens. The returned bool reports whether a previous pointer
// was replaced.
func (s *Store) Save(ctx context.Context, t *Token, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("refresh ttl must be > 0")
	}
	payload, err := encode(t)
	if err != nil {
		return false, err
	}

	replaced, err := saveLua.Run(
		ctx,
		s.redis,
		[]string{TokenKey(t.Token), SessionKey(t.SessionID)},
		payload,
		t.Token,
		ttl.Milliseconds(),
		TokenKeyPrefix,
	).Int64()
	if err != nil {
		return false, kv.Unavailable(err)
	}
	return replaced == 1, nil
}

// Get returns the record stored for token.
func (s *Store) Get(ctx context.Context, token string) (*Token, error) {
	data, err := s.redis.Get(ctx, TokenKey(token)).Bytes()
	if err != nil {
		if kv.IsMissing(err) {
			return nil, ErrNotFound
		}
		return nil, kv.Unavailable(err)
	}
	t, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return t, nil
}

// TokenForSession returns the token value the session pointer refers to.
func (s *Store) TokenForSession(ctx context.Context, sessionID string) (string, error) {
	token, err := s.redis.Get(ctx, SessionKey(sessionID)).Result()
	if err != nil {
		if kv.IsMissing(err) {
			return "", ErrNotFound
		}
		return "", kv.Unavailable(err)
	}
	return token, nil
}

// Claim atomically removes the by-token entry and returns what it held. When
// several callers claim the same token concurrently exactly one receives the
// record; the rest get [ErrNotFound]. The session pointer is then removed if
// it still refers to this token.
//
// A corrupt record is still consumed and reported as [ErrCorrupt].
func (s *Store) Claim(ctx context.Context, token string) (*Token, error) {
	data, err := s.redis.GetDel(ctx, TokenKey(token)).Bytes()
	if err != nil {
		if kv.IsMissing(err) {
			return nil, ErrNotFound
		}
		return nil, kv.Unavailable(err)
	}

	t, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if _, err := s.DeleteSessionPointer(ctx, t.SessionID, t.Token); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteToken removes the by-token entry. Missing entries are not an error.
func (s *Store) DeleteToken(ctx context.Context, token string) error {
	if err := s.redis.Del(ctx, TokenKey(token)).Err(); err != nil {
		return kv.Unavailable(err)
	}
	return nil
}

// DeleteSessionPointer removes the session pointer only while it still refers
// to token, so a pointer written by a newer Save survives.
func (s *Store) DeleteSessionPointer(ctx context.Context, sessionID, token string) (bool, error) {
	deleted, err := deletePointerLua.Run(ctx, s.redis, []string{SessionKey(sessionID)}, token).Int64()
	if err != nil {
		return false, kv.Unavailable(err)
	}
	return deleted == 1, nil
}

// TokenKey returns the by-token key for token.
func TokenKey(token string) string {
	return TokenKeyPrefix + token
}

// SessionKey returns the by-session key for sessionID.
func SessionKey(sessionID string) string {
	return SessionKeyPrefix + sessionID
}
