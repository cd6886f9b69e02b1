// Package tokenmint issues HS256 bearer tokens for the relay, for local
// development and operational testing against a known shared secret.
package tokenmint

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/deskrelay/deskrelay/internal/relay/token"
)

// Config holds configuration for token minting.
type Config struct {
	Secret  string
	Subject string
	Role    string
	TTL     time.Duration
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Role: string(token.RoleUser), TTL: 24 * time.Hour}
	fs.StringVar(&cfg.Secret, "secret", cfg.Secret, "shared secret the relay verifies against")
	fs.StringVar(&cfg.Subject, "subject", cfg.Subject, "identity the token asserts")
	fs.StringVar(&cfg.Role, "role", cfg.Role, "role claim: user, agent, admin, or bot")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run mints the token and writes it to out.
func Run(cfg Config, out io.Writer, now func() time.Time) error {
	if out == nil {
		return errors.New("output is required")
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return errors.New("secret is required")
	}
	subject := strings.TrimSpace(cfg.Subject)
	if subject == "" {
		return errors.New("subject is required")
	}
	role := token.Role(strings.TrimSpace(cfg.Role))
	switch role {
	case token.RoleUser, token.RoleAgent, token.RoleAdmin, token.RoleBot:
	default:
		return fmt.Errorf("unknown role %q", cfg.Role)
	}
	if cfg.TTL <= 0 {
		return errors.New("ttl must be greater than zero")
	}
	if now == nil {
		now = time.Now
	}

	issuedAt := now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": string(role),
		"iat":  jwt.NewNumericDate(issuedAt),
		"exp":  jwt.NewNumericDate(issuedAt.Add(cfg.TTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	_, err = fmt.Fprintln(out, signed)
	return err
}
