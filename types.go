package deskauth

import (
	"context"
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/deskauth/internal/audit"
	"github.com/MrEthical07/deskauth/refresh"
	"github.com/MrEthical07/deskauth/tokens"
)

// User is what the engine needs to know about an account.
type User struct {
	ID    string
	Email string
	Role  string
}

// UserProvider is the user-lookup collaborator.
//
// GetUser verifies credentials. It must return [ErrInvalidCredentials] or
// [ErrUserNotFound] when they do not match; those count toward lockout. Any
// other error is treated as an outage and returned to the caller unchanged.
// GetByID is used on refresh to pick up the user's current role.
type UserProvider interface {
	GetUser(ctx context.Context, email, password string) (User, error)
	GetByID(ctx context.Context, userID string) (User, error)
}

// AuthToken is the access/refresh pair returned by login and refresh.
type AuthToken = tokens.AuthToken

// AccessToken is a signed access token and the identity it carries.
type AccessToken = tokens.AccessToken

// RefreshToken is a stored, single-use refresh token.
type RefreshToken = refresh.Token

// AuditEvent is one security-relevant record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink drops every event.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink writes events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs events through a *slog.Logger.
type SlogSink = internalaudit.SlogSink

// NewChannelSink creates a [ChannelSink] with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink creates a [SlogSink]. A nil logger drops events.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
