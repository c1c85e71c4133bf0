package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"

	// MinPasswordBytes is the shortest password Hash accepts.
	MinPasswordBytes = 10
	// DefaultMaxPasswordBytes caps input length when Config.MaxPasswordBytes
	// is zero.
	DefaultMaxPasswordBytes = 1024
)

var (
	// ErrMalformedHash is returned for stored hashes Verify cannot parse.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrPasswordLength is returned for passwords outside the accepted size.
	ErrPasswordLength = errors.New("password: length out of range")
)

// Config holds Argon2id cost parameters.
type Config struct {
	Memory           uint32 // KiB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

// DefaultConfig returns the parameters used for new hashes in production.
func DefaultConfig() Config {
	return Config{
		Memory:           64 * 1024,
		Time:             3,
		Parallelism:      2,
		SaltLength:       16,
		KeyLength:        32,
		MaxPasswordBytes: DefaultMaxPasswordBytes,
	}
}

// Hasher hashes and verifies passwords. It is safe for concurrent use.
type Hasher struct {
	config Config

	dummyOnce sync.Once
	dummy     string
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// New validates cfg and returns a Hasher.
func New(cfg Config) (*Hasher, error) {
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Hasher{config: cfg}, nil
}

// Hash returns a PHC-encoded Argon2id hash of password. Bytes are used as
// given, without Unicode normalization.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < MinPasswordBytes || len(password) > h.config.MaxPasswordBytes {
		return "", ErrPasswordLength
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, h.config.Time, h.config.Memory, h.config.Parallelism, h.config.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. Oversized passwords are
// rejected before any hashing work.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if len(password) > h.config.MaxPasswordBytes {
		return false, ErrPasswordLength
	}
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.hash)))
	return subtle.ConstantTimeCompare(key, p.hash) == 1, nil
}

// VerifyMissing burns the same work as a Verify against a real hash and
// always reports false. Stores call it for unknown emails so response time
// does not reveal which emails exist.
func (h *Hasher) VerifyMissing(password string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = h.Hash("deskauth-placeholder-password")
	})
	if h.dummy == "" || len(password) > h.config.MaxPasswordBytes {
		return
	}
	_, _ = h.Verify(password, h.dummy)
}

// NeedsRehash reports whether encoded was produced with weaker parameters
// than h uses now.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	return h.config.Memory > p.memory ||
		h.config.Time > p.time ||
		h.config.Parallelism > p.parallelism ||
		h.config.KeyLength != uint32(len(p.hash)), nil
}

func parsePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrMalformedHash
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, parts[2])
	}

	p := &phc{}
	if err := parseParams(parts[3], p); err != nil {
		return nil, err
	}

	p.salt, err = decodeSegment(parts[4])
	if err != nil || len(p.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	p.hash, err = decodeSegment(parts[5])
	if err != nil || len(p.hash) < int(minKeyLength) {
		return nil, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	return p, nil
}

// decodeSegment accepts both the unpadded encoding written by Hash and the
// padded form some other Argon2 libraries emit.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func parseParams(part string, p *phc) error {
	var seen int
	for _, pair := range strings.Split(part, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: bad parameter %q", ErrMalformedHash, pair)
		}

		switch name {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || uint32(v) < minMemoryKB {
				return fmt.Errorf("%w: bad memory", ErrMalformedHash)
			}
			p.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || uint32(v) < minTimeCost {
				return fmt.Errorf("%w: bad time", ErrMalformedHash)
			}
			p.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || uint8(v) < minParallelism {
				return fmt.Errorf("%w: bad parallelism", ErrMalformedHash)
			}
			p.parallelism = uint8(v)
		default:
			return fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, name)
		}
		seen++
	}
	if seen != 3 {
		return fmt.Errorf("%w: expected m, t and p", ErrMalformedHash)
	}
	return nil
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.Memory < minMemoryKB:
		return fmt.Errorf("password: memory must be >= %d KiB", minMemoryKB)
	case cfg.Time < minTimeCost:
		return errors.New("password: time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return errors.New("password: parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return fmt.Errorf("password: salt length must be >= %d", minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return fmt.Errorf("password: key length must be >= %d", minKeyLength)
	case cfg.MaxPasswordBytes < MinPasswordBytes:
		return fmt.Errorf("password: max password bytes must be >= %d", MinPasswordBytes)
	}
	return nil
}
