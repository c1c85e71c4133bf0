package flows

import (
	"errors"
	"time"

	"github.com/MrEthical07/deskauth/tokens"
)

// ValidateFailureKind classifies access-token failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureExpired
	ValidateFailureInvalid
)

// ValidateResult returns either the verified token or a classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Token   *tokens.AccessToken
}

// ValidateDeps captures access-token check dependencies.
type ValidateDeps struct {
	Verify         func(string) (*tokens.AccessToken, error)
	Now            func() time.Time
	ObserveLatency func(time.Duration)
}

// RunValidate verifies an access token without touching the store.
func RunValidate(token string, deps ValidateDeps) ValidateResult {
	if deps.Now != nil && deps.ObserveLatency != nil {
		start := deps.Now()
		defer func() { deps.ObserveLatency(deps.Now().Sub(start)) }()
	}

	verified, err := deps.Verify(token)
	switch {
	case err == nil:
		return ValidateResult{Token: verified}
	case errors.Is(err, tokens.ErrTokenExpired):
		return ValidateResult{Failure: ValidateFailureExpired, Err: err}
	default:
		return ValidateResult{Failure: ValidateFailureInvalid, Err: err}
	}
}
