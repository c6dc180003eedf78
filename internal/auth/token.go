package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims PumpLink cares about. The identity service
// may add more; anything beyond the registered claims and the role is
// ignored here.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// VerifyToken validates an HS256 bearer token: signature, expiry and,
// when expectedIssuer is non-empty, the issuer claim. It returns the
// parsed claims for request attribution.
func VerifyToken(tokenString, secret, expectedIssuer string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	if expectedIssuer != "" && claims.Issuer != expectedIssuer {
		return nil, fmt.Errorf("%w: got %q", ErrWrongIssuer, claims.Issuer)
	}

	return claims, nil
}
