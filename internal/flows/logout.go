package flows

import "context"

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	ExpireSession func(ctx context.Context, sessionID string) error
}

// RunLogout revokes the refresh token of sessionID. Unknown sessions are a
// no-op; only store failures are returned.
func RunLogout(ctx context.Context, sessionID string, deps LogoutDeps) error {
	return deps.ExpireSession(ctx, sessionID)
}
