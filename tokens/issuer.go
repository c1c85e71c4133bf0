package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/deskauth/internal"
	"github.com/MrEthical07/deskauth/jwt"
	"github.com/MrEthical07/deskauth/refresh"
)

// DefaultRefreshTTL is used when Config.RefreshTTL is zero.
const DefaultRefreshTTL = 7 * 24 * time.Hour

var (
	// ErrTokenExpired is returned by Verify for a well-formed access token past its exp.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for every other unusable access or refresh token.
	ErrTokenInvalid = errors.New("token invalid")
)

// Subject identifies who a token pair is issued to.
type Subject struct {
	ID   string
	Role string
}

// SubjectLookup resolves the current subject for a user id. Refresh uses it so
// a rotated access token carries the user's current role.
type SubjectLookup interface {
	LookupSubject(ctx context.Context, userID string) (Subject, error)
}

// SubjectLookupFunc adapts a function to [SubjectLookup].
type SubjectLookupFunc func(ctx context.Context, userID string) (Subject, error)

// LookupSubject calls f.
func (f SubjectLookupFunc) LookupSubject(ctx context.Context, userID string) (Subject, error) {
	return f(ctx, userID)
}

// AccessToken is a verified or freshly signed access token.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
	UserID    string
	SessionID string
	Role      string
	JTI       string
}

// AuthToken is the pair handed to a client after login or refresh.
type AuthToken struct {
	Access  AccessToken
	Refresh *refresh.Token
}

// Config tunes an [Issuer].
type Config struct {
	RefreshTTL time.Duration
}

// Option customizes an [Issuer].
type Option func(*Issuer)

// WithLogger sets the logger for best-effort cleanup failures.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithClock overrides the time source used for refresh-token timestamps.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithSessionIDs overrides session id generation.
func WithSessionIDs(next func() string) Option {
	return func(i *Issuer) {
		if next != nil {
			i.newSessionID = next
		}
	}
}

// Issuer mints, verifies, rotates and revokes token pairs.
//
// Access tokens are stateless. Refresh tokens live in the refresh store and
// are single use: Refresh consumes the presented token before issuing a new
// pair for the same session.
type Issuer struct {
	access       *jwt.Manager
	store        *refresh.Store
	subjects     SubjectLookup
	refreshTTL   time.Duration
	logger       *slog.Logger
	now          func() time.Time
	newSessionID func() string
}

// NewIssuer wires an [Issuer] from its collaborators.
func NewIssuer(access *jwt.Manager, store *refresh.Store, subjects SubjectLookup, cfg Config, opts ...Option) (*Issuer, error) {
	if access == nil {
		return nil, errors.New("tokens: jwt manager is required")
	}
	if store == nil {
		return nil, errors.New("tokens: refresh store is required")
	}
	if subjects == nil {
		return nil, errors.New("tokens: subject lookup is required")
	}
	if cfg.RefreshTTL < 0 {
		return nil, errors.New("tokens: refresh ttl must be >= 0")
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	i := &Issuer{
		access:       access,
		store:        store,
		subjects:     subjects,
		refreshTTL:   cfg.RefreshTTL,
		logger:       slog.New(slog.DiscardHandler),
		now:          time.Now,
		newSessionID: internal.NewSessionID,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// RefreshTTL returns the lifetime given to new refresh tokens.
func (i *Issuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

// Issue mints a new pair for subj. An empty sessionID starts a new session;
// a non-empty one continues it and replaces that session's refresh token.
func (i *Issuer) Issue(ctx context.Context, subj Subject, sessionID string) (*AuthToken, error) {
	if subj.ID == "" {
		return nil, errors.New("tokens: subject id is required")
	}
	if sessionID == "" {
		sessionID = i.newSessionID()
	} else if !internal.ValidSessionID(sessionID) {
		return nil, errors.New("tokens: malformed session id")
	}

	signed, claims, err := i.access.CreateAccess(subj.ID, sessionID, subj.Role)
	if err != nil {
		return nil, fmt.Errorf("tokens: sign access token: %w", err)
	}

	secret, err := refresh.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("tokens: generate refresh token: %w", err)
	}

	now := i.now()
	rec := &refresh.Token{
		Token:     secret,
		UserID:    subj.ID,
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(i.refreshTTL),
	}
	replaced, err := i.store.Save(ctx, rec, i.refreshTTL)
	if err != nil {
		return nil, err
	}
	if replaced {
		i.logger.DebugContext(ctx, "refresh token replaced for session", "session_id", sessionID)
	}

	return &AuthToken{
		Access: AccessToken{
			Token:     signed,
			ExpiresAt: claims.ExpiresAt.Time,
			UserID:    subj.ID,
			SessionID: sessionID,
			Role:      subj.Role,
			JTI:       claims.ID,
		},
		Refresh: rec,
	}, nil
}

// Verify checks an access token, accepting an optional "Bearer " prefix.
// It returns [ErrTokenExpired] only for otherwise valid tokens past exp, and
// [ErrTokenInvalid] for everything else.
func (i *Issuer) Verify(token string) (*AccessToken, error) {
	raw := StripBearer(token)
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	claims, err := i.access.ParseAccess(raw)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	return &AccessToken{
		Token:     raw,
		ExpiresAt: claims.ExpiresAt.Time,
		UserID:    claims.UID,
		SessionID: claims.SID,
		Role:      claims.Role,
		JTI:       claims.ID,
	}, nil
}

// Refresh rotates a refresh token. The presented token is consumed first, so
// it stays invalid even when the subject lookup or the new issuance fails.
// Of several concurrent calls with one token at most one succeeds; the others
// get [ErrTokenInvalid].
func (i *Issuer) Refresh(ctx context.Context, token string) (*AuthToken, error) {
	if !refresh.ValidSecret(token) {
		return nil, ErrTokenInvalid
	}

	rec, err := i.store.Claim(ctx, token)
	if err != nil {
		if errors.Is(err, refresh.ErrNotFound) || errors.Is(err, refresh.ErrCorrupt) {
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
		return nil, err
	}
	if rec.Expired(i.now()) {
		return nil, fmt.Errorf("%w: refresh token expired", ErrTokenInvalid)
	}

	subj, err := i.subjects.LookupSubject(ctx, rec.UserID)
	if err != nil {
		return nil, fmt.Errorf("tokens: lookup subject: %w", err)
	}
	if subj.ID != rec.UserID {
		return nil, fmt.Errorf("%w: subject mismatch", ErrTokenInvalid)
	}

	return i.Issue(ctx, subj, rec.SessionID)
}

// ExpireBySessionID revokes the session's refresh token. Unknown, expired or
// malformed session ids are a no-op. Failing to delete the token itself is
// returned; failing to delete the session pointer afterwards is only logged.
func (i *Issuer) ExpireBySessionID(ctx context.Context, sessionID string) error {
	if !internal.ValidSessionID(sessionID) {
		return nil
	}

	token, err := i.store.TokenForSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, refresh.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := i.store.DeleteToken(ctx, token); err != nil {
		return err
	}

	if _, err := i.store.DeleteSessionPointer(ctx, sessionID, token); err != nil {
		i.logger.WarnContext(ctx, "session pointer cleanup failed", "session_id", sessionID, "error", err)
	}
	return nil
}

// StripBearer removes a leading case-insensitive "Bearer " scheme and
// surrounding whitespace.
func StripBearer(token string) string {
	token = strings.TrimSpace(token)
	const scheme = "bearer "
	if len(token) >= len(scheme) && strings.EqualFold(token[:len(scheme)], scheme) {
		token = strings.TrimSpace(token[len(scheme):])
	}
	return token
}
