// Package auth resolves voter identity from signed bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for malformed, forged or expired tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNotConfigured is returned when no signing secret is set.
	ErrNotConfigured = errors.New("token signing secret is not configured")
)

const minSecretLength = 16

// voterClaims is the claims type used for voter tokens. The subject is the
// voter id.
type voterClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// Verifier validates and issues HS256 voter tokens.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier creates a verifier for tokens signed with secret by issuer.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrNotConfigured, minSecretLength)
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Authenticate returns the voter id carried by token.
func (v *Verifier) Authenticate(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims voterClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return subject, nil
}

// Issue signs a token for voterID valid for ttl.
func (v *Verifier) Issue(voterID string, ttl time.Duration) (string, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return "", errors.New("voter id is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := v.now()
	claims := voterClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   voterID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
