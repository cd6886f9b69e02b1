// Package token verifies bearer credentials and yields the identity claim
// bound to a request or live connection.
package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/deskrelay/deskrelay/internal/platform/errors"
)

// Role classifies what a verified identity may do on the relay.
type Role string

// The closed set of roles a credential can carry.
const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
	RoleBot   Role = "bot"
)

// IsStaff reports whether the role may join and post in any conversation
// regardless of ownership.
func (r Role) IsStaff() bool {
	return r == RoleAgent || r == RoleAdmin
}

// ParseRole maps a raw claim value onto the closed role set. An absent or
// unrecognized value collapses to RoleUser so a forged role string can never
// grant staff access.
func ParseRole(raw string) Role {
	switch Role(strings.TrimSpace(raw)) {
	case RoleAgent:
		return RoleAgent
	case RoleAdmin:
		return RoleAdmin
	case RoleBot:
		return RoleBot
	default:
		return RoleUser
	}
}

// Identity is the subject/role pair derived from a verified credential.
type Identity struct {
	Subject string
	Role    Role
}

// ErrUnauthorized indicates the credential is missing, malformed, expired,
// or failed signature verification.
var ErrUnauthorized = apperrors.New(apperrors.CodeUnauthorized, "invalid or missing credential")

type relayClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Verifier validates HS256 bearer tokens against a shared secret.
//
// Verification has no side effects and no session state: reconnects present
// the token again and are re-verified from scratch.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier builds a verifier for the given shared secret.
func NewVerifier(secret string, now func() time.Time) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, apperrors.New(apperrors.CodeUnknown, "token secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(secret), now: now}, nil
}

// Verify checks the bearer token and returns its identity claim.
func (v *Verifier) Verify(raw string) (Identity, error) {
	if v == nil || len(v.secret) == 0 {
		return Identity{}, apperrors.New(apperrors.CodeUnknown, "token verifier is not configured")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrUnauthorized
	}

	var claims relayClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Identity{}, apperrors.Wrap(apperrors.CodeUnauthorized, "invalid or missing credential", err)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, ErrUnauthorized
	}

	return Identity{
		Subject: subject,
		Role:    ParseRole(claims.Role),
	}, nil
}
