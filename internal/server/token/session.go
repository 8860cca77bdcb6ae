// Package token implements the two credential classes of the vault:
// session credentials (JWT, HS256) and download tokens (keyed MAC
// over a fixed delimited payload). The two classes sign with distinct
// secrets so compromise of one cannot forge the other.
//
// Both token kinds are stateless: validity lives entirely in the
// signed bytes, and verification never touches the database. A
// download token is replayable any number of times until it expires;
// the short TTL is the only mitigation, which is an accepted
// trade-off.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrBadSignature   = errors.New("token signature invalid")
	ErrMalformedToken = errors.New("token malformed")
)

// expiryGrace absorbs clock skew between issuing and verifying hosts.
const expiryGrace = 5 * time.Second

// SessionIssuer signs and verifies session credentials asserting a
// user's selector for a bounded window.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionIssuer creates a SessionIssuer with the process-wide
// session signing secret.
func NewSessionIssuer(secret []byte, ttl time.Duration) (*SessionIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	return &SessionIssuer{secret: secret, ttl: ttl}, nil
}

// Issue produces a signed token asserting the given selector until
// now + TTL.
func (s *SessionIssuer) Issue(selector string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   selector,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate verifies the signature and expiry and returns the asserted
// selector. Only HS256 is accepted; there is no algorithm
// negotiation. Failures are distinguished for logging, but callers
// must collapse them to a generic unauthorized before they reach a
// client.
func (s *SessionIssuer) Validate(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(expiryGrace))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return "", ErrBadSignature
		default:
			return "", ErrMalformedToken
		}
	}
	if !tok.Valid || claims.Subject == "" {
		return "", ErrMalformedToken
	}
	return claims.Subject, nil
}
