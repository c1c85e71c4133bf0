package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/deskauth"
)

// TokenChecker verifies access tokens. *deskauth.Engine implements it.
type TokenChecker interface {
	CheckAccessToken(ctx context.Context, accessToken string) (*deskauth.AccessToken, error)
}

type accessTokenContextKey struct{}

// AccessTokenFromContext returns the token stored by [Guard].
func AccessTokenFromContext(ctx context.Context) (*deskauth.AccessToken, bool) {
	tok, ok := ctx.Value(accessTokenContextKey{}).(*deskauth.AccessToken)
	return tok, ok
}

// Guard rejects requests without a valid bearer access token and stores the
// verified token in the request context. Rejections are rendered by
// [WriteError], so clients can tell an expired token from a bad one.
func Guard(checker TokenChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if checker == nil {
				WriteError(w, r, deskauth.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, r, deskauth.ErrInvalidToken)
				return
			}

			verified, err := checker.CheckAccessToken(r.Context(), token)
			if err != nil {
				WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), accessTokenContextKey{}, verified)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) <= len(bearer) || value[:len(bearer)] != bearer {
		return "", false
	}
	return value[len(bearer):], true
}
