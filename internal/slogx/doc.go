// Package slogx builds slog loggers for the deskauth binaries and carries a
// request-scoped logger through context.
package slogx
