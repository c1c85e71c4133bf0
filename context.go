package deskauth

import "context"

type clientIPKey struct{}

// WithClientIP attaches the caller's IP to ctx. Login uses it as the second
// lockout and lock dimension next to the email.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the IP set by [WithClientIP], or "".
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
