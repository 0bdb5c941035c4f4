// Package auth is the identity collaborator: it verifies bearer tokens and
// hands the coordinator a stable participant id. Token issuance beyond the
// dev login endpoint lives elsewhere.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/4sizn/animal-zoom-sub002/internal/core"
	"github.com/4sizn/animal-zoom-sub002/internal/domain"
)

type claims struct {
	DisplayName string `json:"name"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify implements core.Authenticator. Any parse or signature failure
// surfaces as ErrAuthFailed; the coordinator never sees jwt internals.
func (v *Verifier) Verify(token string) (core.Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return core.Identity{}, fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
	}
	if c.Subject == "" {
		return core.Identity{}, fmt.Errorf("%w: token missing subject", domain.ErrAuthFailed)
	}
	return core.Identity{
		ParticipantID: domain.ParticipantID(c.Subject),
		DisplayName:   c.DisplayName,
	}, nil
}

// Issue signs a token for the dev login endpoint.
func (v *Verifier) Issue(id domain.ParticipantID, displayName string, ttl time.Duration) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := t.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
