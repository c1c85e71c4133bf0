package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/deskauth"
	"github.com/MrEthical07/deskauth/jwt"
	"github.com/MrEthical07/deskauth/kv"
	"github.com/MrEthical07/deskauth/middleware"
)

// appConfig is everything main needs, read from the environment.
type appConfig struct {
	Addr       string
	Env        string
	LogLevel   string
	LogFormat  string
	TrustProxy bool

	Redis        kv.Config
	DatabaseURL  string
	CreateSchema bool
	SentryDSN    string

	// Seed account, created at startup when both are set.
	SeedEmail    string
	SeedPassword string
	SeedRole     string

	StrictLogin bool
	Throttle    middleware.ThrottleConfig
	Engine      deskauth.Config
}

// getenv matches os.Getenv; tests pass a map lookup.
type getenv func(string) string

func loadConfig(get getenv) (appConfig, error) {
	cfg := appConfig{
		Addr:        envOrDefault(get, "DESKAUTH_ADDR", ":"+envOrDefault(get, "PORT", "8080")),
		Env:         envOrDefault(get, "APP_ENV", "development"),
		LogLevel:    envOrDefault(get, "LOG_LEVEL", "info"),
		LogFormat:   envOrDefault(get, "LOG_FORMAT", "json"),
		TrustProxy:  envBool(get, "DESKAUTH_TRUST_PROXY"),
		SentryDSN:   strings.TrimSpace(get("SENTRY_DSN")),

		DatabaseURL:  strings.TrimSpace(get("DATABASE_URL")),
		CreateSchema: envBool(get, "DESKAUTH_CREATE_SCHEMA"),

		SeedEmail:    strings.TrimSpace(get("DESKAUTH_SEED_EMAIL")),
		SeedPassword: get("DESKAUTH_SEED_PASSWORD"),
		SeedRole:     envOrDefault(get, "DESKAUTH_SEED_ROLE", "operator"),

		StrictLogin: envBool(get, "DESKAUTH_STRICT_LOGIN"),
		Throttle: middleware.ThrottleConfig{
			RequestsPerWindow: envIntOrDefault(get, "DESKAUTH_THROTTLE_PER_MINUTE", middleware.DefaultThrottle.RequestsPerWindow),
			Window:            time.Minute,
			Burst:             envIntOrDefault(get, "DESKAUTH_THROTTLE_BURST", middleware.DefaultThrottle.Burst),
		},
	}

	cfg.Redis = kv.DefaultConfig()
	if addrs := splitList(get("REDIS_ADDR")); len(addrs) > 0 {
		cfg.Redis.Addrs = addrs
	}
	cfg.Redis.MasterName = strings.TrimSpace(get("REDIS_MASTER_NAME"))
	cfg.Redis.Username = strings.TrimSpace(get("REDIS_USERNAME"))
	cfg.Redis.Password = get("REDIS_PASSWORD")
	cfg.Redis.DB = envIntOrDefault(get, "REDIS_DB", 0)
	if err := cfg.Redis.Validate(); err != nil {
		return appConfig{}, err
	}

	engineCfg := deskauth.DefaultConfig()
	engineCfg.JWT.Issuer = envOrDefault(get, "DESKAUTH_JWT_ISSUER", engineCfg.JWT.Issuer)
	engineCfg.JWT.Audience = strings.TrimSpace(get("DESKAUTH_JWT_AUDIENCE"))
	engineCfg.JWT.KeyID = strings.TrimSpace(get("DESKAUTH_JWT_KID"))
	engineCfg.JWT.AccessTTL = envMinutesOrDefault(get, "DESKAUTH_ACCESS_TTL_MINUTES", 15)
	engineCfg.JWT.RefreshTTL = envHoursOrDefault(get, "DESKAUTH_REFRESH_TTL_HOURS", 168)
	engineCfg.Lockout.MaxFailures = envIntOrDefault(get, "DESKAUTH_LOGIN_MAX_ATTEMPTS", engineCfg.Lockout.MaxFailures)
	engineCfg.Lockout.Window = envMinutesOrDefault(get, "DESKAUTH_LOGIN_LOCK_MINUTES", 15)
	engineCfg.Audit.Enabled = envBool(get, "DESKAUTH_AUDIT")
	engineCfg.Metrics.EnableLatencyHistograms = envBool(get, "DESKAUTH_LATENCY_HISTOGRAMS")

	if err := loadSigningKeys(get, &engineCfg.JWT); err != nil {
		return appConfig{}, err
	}
	if err := engineCfg.Validate(); err != nil {
		return appConfig{}, fmt.Errorf("engine config: %w", err)
	}
	cfg.Engine = engineCfg

	if (cfg.SeedEmail == "") != (cfg.SeedPassword == "") {
		return appConfig{}, errors.New("DESKAUTH_SEED_EMAIL and DESKAUTH_SEED_PASSWORD must be set together")
	}
	return cfg, nil
}

// loadSigningKeys reads an HMAC secret from DESKAUTH_JWT_SECRET, or PEM
// Ed25519 keys from the files named by DESKAUTH_JWT_PRIVATE_KEY_FILE and
// DESKAUTH_JWT_PUBLIC_KEY_FILE.
func loadSigningKeys(get getenv, jc *deskauth.JWTConfig) error {
	privFile := strings.TrimSpace(get("DESKAUTH_JWT_PRIVATE_KEY_FILE"))
	if privFile == "" {
		secret := get("DESKAUTH_JWT_SECRET")
		if secret == "" {
			return errors.New("missing required env: DESKAUTH_JWT_SECRET or DESKAUTH_JWT_PRIVATE_KEY_FILE")
		}
		jc.SigningMethod = string(jwt.MethodHS256)
		jc.PrivateKey = []byte(secret)
		return nil
	}

	pubFile := strings.TrimSpace(get("DESKAUTH_JWT_PUBLIC_KEY_FILE"))
	if pubFile == "" {
		return errors.New("DESKAUTH_JWT_PUBLIC_KEY_FILE is required with a private key file")
	}
	priv, err := os.ReadFile(privFile)
	if err != nil {
		return fmt.Errorf("read private key: %w", err)
	}
	pub, err := os.ReadFile(pubFile)
	if err != nil {
		return fmt.Errorf("read public key: %w", err)
	}
	jc.SigningMethod = string(jwt.MethodEd25519)
	jc.PrivateKey = priv
	jc.PublicKey = pub
	return nil
}

func envOrDefault(get getenv, name, fallback string) string {
	value := strings.TrimSpace(get(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(get getenv, name string, fallback int) int {
	value := strings.TrimSpace(get(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func envBool(get getenv, name string) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(get(name)))
	return err == nil && parsed
}

func envMinutesOrDefault(get getenv, name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(get, name, fallback)) * time.Minute
}

func envHoursOrDefault(get getenv, name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(get, name, fallback)) * time.Hour
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
