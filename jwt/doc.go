// Package jwt signs and verifies short-lived access tokens.
//
// Tokens carry iss, sub, iat, exp, a ULID jti and the custom claims uid, sid,
// role and typ. Verification requires typ=access and reports expiry
// ([ErrExpired]) separately from every other failure ([ErrInvalid]).
package jwt
