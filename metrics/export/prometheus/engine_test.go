package prometheus

import (
	"context"
	"testing"

	"github.com/MrEthical07/deskauth"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type noUsers struct{}

func (noUsers) GetUser(context.Context, string, string) (deskauth.User, error) {
	return deskauth.User{}, deskauth.ErrUserNotFound
}

func (noUsers) GetByID(context.Context, string) (deskauth.User, error) {
	return deskauth.User{}, deskauth.ErrUserNotFound
}

func newEngine(t *testing.T) *deskauth.Engine {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := deskauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")

	engine, err := deskauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(noUsers{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}
