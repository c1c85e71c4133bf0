package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/deskauth/lock"
	"github.com/MrEthical07/deskauth/refresh"
	"github.com/MrEthical07/deskauth/tokens"
)

// RefreshLockPrefix is prepended to a refresh token to form its lock name.
const RefreshLockPrefix = "refresh:"

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureInvalid
	RefreshFailureConflict
	RefreshFailureBackend
)

// RefreshResult carries either the rotated pair or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	Pair    *tokens.AuthToken
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	// AcquireLock must report contention with lock.ErrNotAcquired.
	AcquireLock func(ctx context.Context, key string) (release func(), err error)
	Rotate      func(ctx context.Context, refreshToken string) (*tokens.AuthToken, error)
}

// RunRefresh rotates refreshToken while holding a lock named after it. A
// second refresh of the same token that arrives while the first holds the
// lock fails fast with RefreshFailureConflict. Once the first has finished,
// the token is gone and later attempts get RefreshFailureInvalid.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if !refresh.ValidSecret(refreshToken) {
		return RefreshResult{Failure: RefreshFailureInvalid, Err: tokens.ErrTokenInvalid}
	}

	release, err := deps.AcquireLock(ctx, RefreshLockPrefix+refreshToken)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return RefreshResult{Failure: RefreshFailureConflict, Err: err}
		}
		return RefreshResult{Failure: RefreshFailureBackend, Err: err}
	}
	defer release()

	pair, err := deps.Rotate(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, tokens.ErrTokenInvalid) {
			return RefreshResult{Failure: RefreshFailureInvalid, Err: err}
		}
		return RefreshResult{Failure: RefreshFailureBackend, Err: err}
	}
	return RefreshResult{Pair: pair}
}
