// Package userstore provides [deskauth.UserProvider] implementations: an
// in-memory store and a PostgreSQL store over pgx.
//
// Both follow the provider error contract: an unknown email yields
// [deskauth.ErrUserNotFound], a wrong password [deskauth.ErrInvalidCredentials],
// and anything else is an outage. Unknown emails still pay for one password
// hash so lookups take about the same time either way.
package userstore
