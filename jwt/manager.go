package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// SigningMethod selects the access-token signature algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with a shared symmetric key of at least [MinHMACKeySize] bytes.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key and verifies with the public key.
	MethodEd25519 SigningMethod = "ed25519"
)

// TypeAccess is the required value of the "typ" claim on access tokens.
const TypeAccess = "access"

// MinHMACKeySize is the smallest accepted HS256 key.
const MinHMACKeySize = 32

var (
	// ErrExpired is returned for a correctly signed token whose exp has passed.
	ErrExpired = errors.New("access token expired")
	// ErrInvalid is returned for every other parse or validation failure.
	ErrInvalid = errors.New("access token invalid")
)

// Config defines how access tokens are signed and validated.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// AccessClaims is the claim set carried by every access token.
type AccessClaims struct {
	UID  string `json:"uid"`
	SID  string `json:"sid"`
	Role string `json:"role,omitempty"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Option customizes a [Manager].
type Option func(*Manager)

// WithClock overrides the time source used for iat/exp and validation.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager signs and parses access tokens.
//
// Manager is safe for concurrent use; it holds no mutable state after construction.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg and returns a ready [Manager].
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("issuer is required")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < MinHMACKeySize {
			return nil, fmt.Errorf("hs256 requires a key of at least %d bytes", MinHMACKeySize)
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if len(key) < MinHMACKeySize {
				return nil, fmt.Errorf("hs256 verify key for kid %q is too short", kid)
			}
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	m := &Manager{config: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration {
	return m.config.AccessTTL
}

// CreateAccess signs a new access token for uid in session sid and returns it
// together with the claims that were signed. Every token gets a fresh ULID jti.
func (m *Manager) CreateAccess(uid, sid, role string) (string, *AccessClaims, error) {
	if uid == "" || sid == "" {
		return "", nil, errors.New("uid and sid are required")
	}

	signKey, err := m.getSignKey()
	if err != nil {
		return "", nil, err
	}

	now := m.now()
	claims := &AccessClaims{
		UID:  uid,
		SID:  sid,
		Role: role,
		Type: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   uid,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.getMethod(), claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// ParseAccess verifies the signature and standard claims of tokenStr and
// requires typ=access. Failures are reported as [ErrExpired] or [ErrInvalid];
// the underlying cause is wrapped for logging.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.getMethod().Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, m.keyFunc)
	if err != nil {
		if onlyExpired(err) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, jwt.ErrTokenInvalidClaims)
	}
	if claims.Type != TypeAccess {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalid, claims.Type)
	}
	if claims.UID == "" || claims.SID == "" || claims.Subject != claims.UID {
		return nil, fmt.Errorf("%w: missing subject or session", ErrInvalid)
	}

	return claims, nil
}

// onlyExpired reports whether exp is the sole reason validation failed. A
// token from another issuer that also happens to be expired is invalid.
func onlyExpired(err error) bool {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return false
	}
	return !errors.Is(err, jwt.ErrTokenInvalidIssuer) &&
		!errors.Is(err, jwt.ErrTokenInvalidAudience) &&
		!errors.Is(err, jwt.ErrTokenUsedBeforeIssued) &&
		!errors.Is(err, jwt.ErrTokenSignatureInvalid)
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != m.getMethod().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(m.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return m.keyBytesToVerifyKey(key)
	}

	if m.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != m.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return m.getVerifyKey()
}

func (m *Manager) getMethod() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) getSignKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		if len(m.config.PrivateKey) == 0 {
			return nil, errors.New("ed25519 private key not configured")
		}
		return parseEdPrivateKey(m.config.PrivateKey)
	}
}

func (m *Manager) getVerifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPublicKey(m.config.PublicKey)
	}
}

func (m *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
