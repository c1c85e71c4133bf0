package deskauth

import (
	"context"
	"testing"
)

func BenchmarkCheckAccessToken(b *testing.B) {
	env := newTestEnv(b, func(c *Config) { c.Metrics.Enabled = false })
	pair := env.login(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.engine.CheckAccessToken(context.Background(), pair.Access.Token); err != nil {
			b.Fatalf("CheckAccessToken failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	env := newTestEnv(b)
	token := env.login(b).Refresh.Token

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := env.engine.Refresh(context.Background(), token)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		token = next.Refresh.Token
	}
}

func BenchmarkLogin(b *testing.B) {
	env := newTestEnv(b)
	ctx := ipContext(testIP)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pair, err := env.engine.Login(ctx, testEmail, testPassword)
		if err != nil {
			b.Fatalf("login failed: %v", err)
		}
		_ = env.engine.Logout(ctx, pair.Access.SessionID)
	}
}

func BenchmarkLoginWithLock(b *testing.B) {
	env := newTestEnv(b)
	ctx := ipContext(testIP)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pair, err := env.engine.LoginWithLock(ctx, testEmail, testPassword)
		if err != nil {
			b.Fatalf("login failed: %v", err)
		}
		_ = env.engine.Logout(ctx, pair.Access.SessionID)
	}
}
