package userstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/deskauth"
	"github.com/MrEthical07/deskauth/password"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the table Postgres reads from. The chat backend normally
// owns this table; the statement is here for local setups and tests.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	role          TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL
)`

const (
	selectByEmail = `SELECT id, email, role, password_hash FROM users WHERE email = $1`
	selectByID    = `SELECT id, email, role FROM users WHERE id = $1`
	updateHash    = `UPDATE users SET password_hash = $1 WHERE id = $2 AND password_hash = $3`
	insertUser    = `INSERT INTO users (id, email, role, password_hash) VALUES ($1, $2, $3, $4)
ON CONFLICT (email) DO UPDATE SET role = EXCLUDED.role, password_hash = EXCLUDED.password_hash
RETURNING id`
)

// DB is the subset of *pgxpool.Pool used by Postgres.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is a [deskauth.UserProvider] over a users table. Emails are stored
// normalized.
type Postgres struct {
	db     DB
	hasher *password.Hasher
	logger *slog.Logger
}

// PostgresOption configures a Postgres store.
type PostgresOption func(*Postgres)

// WithLogger sets the logger used for best-effort rehash failures.
func WithLogger(logger *slog.Logger) PostgresOption {
	return func(p *Postgres) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPostgres returns a store reading through db.
func NewPostgres(db DB, hasher *password.Hasher, opts ...PostgresOption) *Postgres {
	p := &Postgres{
		db:     db,
		hasher: hasher,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("userstore: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("userstore: ping: %w", err)
	}
	return pool, nil
}

// GetUser looks up email and verifies plain against the stored hash.
func (p *Postgres) GetUser(ctx context.Context, email, plain string) (deskauth.User, error) {
	var (
		u    deskauth.User
		hash string
	)
	err := p.db.QueryRow(ctx, selectByEmail, NormalizeEmail(email)).Scan(&u.ID, &u.Email, &u.Role, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			p.hasher.VerifyMissing(plain)
			return deskauth.User{}, deskauth.ErrUserNotFound
		}
		return deskauth.User{}, fmt.Errorf("userstore: query user by email: %w", err)
	}

	u, err = checkPassword(p.hasher, u, hash, plain)
	if err != nil {
		return deskauth.User{}, err
	}
	p.rehash(ctx, u.ID, hash, plain)
	return u, nil
}

// GetByID returns the user with userID or [deskauth.ErrUserNotFound].
func (p *Postgres) GetByID(ctx context.Context, userID string) (deskauth.User, error) {
	var u deskauth.User
	err := p.db.QueryRow(ctx, selectByID, userID).Scan(&u.ID, &u.Email, &u.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return deskauth.User{}, deskauth.ErrUserNotFound
		}
		return deskauth.User{}, fmt.Errorf("userstore: query user by id: %w", err)
	}
	return u, nil
}

// Upsert creates or replaces the user with u.Email and returns its id. An
// empty u.ID gets a UUIDv7; an existing row keeps its id.
func (p *Postgres) Upsert(ctx context.Context, u deskauth.User, plain string) (string, error) {
	if u.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", err
		}
		u.ID = id.String()
	}
	hash, err := p.hasher.Hash(plain)
	if err != nil {
		return "", err
	}
	var id string
	err = p.db.QueryRow(ctx, insertUser, u.ID, NormalizeEmail(u.Email), u.Role, hash).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("userstore: upsert user: %w", err)
	}
	return id, nil
}

// rehash upgrades a hash made with weaker parameters. It only runs after a
// successful login and never fails it.
func (p *Postgres) rehash(ctx context.Context, userID, old, plain string) {
	need, err := p.hasher.NeedsRehash(old)
	if err != nil || !need {
		return
	}
	fresh, err := p.hasher.Hash(plain)
	if err != nil {
		p.logger.WarnContext(ctx, "password rehash failed", "user_id", userID, "error", err)
		return
	}
	if _, err := p.db.Exec(ctx, updateHash, fresh, userID, old); err != nil {
		p.logger.WarnContext(ctx, "password rehash failed", "user_id", userID, "error", err)
	}
}
