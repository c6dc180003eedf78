// Package auth verifies bearer tokens presented to the PumpLink API.
//
// PumpLink Core does not issue tokens. Operators authenticate against the
// deployment's identity service, which mints HS256 JWTs with a shared
// secret; this package only checks signature, expiry and issuer before a
// request is allowed to reach a pump.
//
// # Usage
//
//	claims, err := auth.VerifyToken(tokenString, cfg.JWT.Secret, cfg.JWT.Issuer)
//	if err != nil {
//	    // reject with 401
//	}
//	log.Info("request", "subject", claims.Subject)
package auth
