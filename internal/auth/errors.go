package auth

import "errors"

// Authentication errors. Use errors.Is for comparison:
//
//	if errors.Is(err, auth.ErrTokenInvalid) {
//	    // respond 401
//	}
var (
	// ErrTokenInvalid indicates a token that failed signature, expiry or
	// structural validation.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrWrongIssuer indicates a structurally valid token minted by an
	// unexpected issuer.
	ErrWrongIssuer = errors.New("auth: wrong issuer")
)
