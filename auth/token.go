package auth

import (
	"time"

	"github.com/golang-jwt/jwt"
)

// Claims is the payload minted into and decoded from bearer tokens. Only
// the subject (user id) and expiry are load-bearing for this relay; the
// rest of the JWT machinery (issuer, audience, ...) is left to the
// upstream auth service that mints these tokens.
type Claims struct {
	jwt.StandardClaims
}

// UserID returns the subject claim, which this relay treats as the owning
// user's id.
func (c Claims) UserID() string {
	return c.Subject
}

// TokenCodec mints and verifies HS-family bearer tokens.
type TokenCodec struct {
	SigningKey string
	Algorithm  string
	Lifetime   time.Duration
}

// NewTokenCodec builds a TokenCodec for the given HMAC signing key.
func NewTokenCodec(signingKey string, lifetime time.Duration) *TokenCodec {
	return &TokenCodec{SigningKey: signingKey, Algorithm: "HS256", Lifetime: lifetime}
}

func (c *TokenCodec) method() jwt.SigningMethod {
	switch c.Algorithm {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodHS256
	}
}

// Mint produces a signed bearer token for userID, expiring after the
// codec's configured lifetime.
func (c *TokenCodec) Mint(userID string) (string, error) {
	now := time.Now()
	claims := Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   userID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(c.Lifetime).Unix(),
		},
	}

	token := jwt.NewWithClaims(c.method(), claims)
	return token.SignedString([]byte(c.SigningKey))
}

// Verify decodes and validates a bearer token, returning its claims on
// success. Any failure — expired, malformed, bad signature, missing
// subject — collapses to ErrUnauthorized; the caller never needs to
// distinguish the reason, only that authentication failed.
func (c *TokenCodec) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return []byte(c.SigningKey), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}
	if claims.Subject == "" {
		return nil, ErrUnauthorized
	}

	return claims, nil
}
