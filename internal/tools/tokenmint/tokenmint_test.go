package tokenmint

import (
	"bytes"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/deskrelay/deskrelay/internal/relay/token"
)

func testNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("tokenmint", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Role != "user" {
		t.Fatalf("expected default role user, got %q", cfg.Role)
	}
	if cfg.TTL != 24*time.Hour {
		t.Fatalf("expected default ttl 24h, got %s", cfg.TTL)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	fs := flag.NewFlagSet("tokenmint", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{
		"-secret", "s3cret",
		"-subject", "agent@desk.example",
		"-role", "agent",
		"-ttl", "15m",
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Secret != "s3cret" || cfg.Subject != "agent@desk.example" || cfg.Role != "agent" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.TTL != 15*time.Minute {
		t.Fatalf("expected ttl 15m, got %s", cfg.TTL)
	}
}

func TestRunMintsVerifiableToken(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := Config{
		Secret:  "s3cret",
		Subject: "agent@desk.example",
		Role:    "agent",
		TTL:     time.Hour,
	}
	if err := Run(cfg, buf, testNow); err != nil {
		t.Fatalf("run: %v", err)
	}

	verifier, err := token.NewVerifier("s3cret", testNow)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	identity, err := verifier.Verify(strings.TrimSpace(buf.String()))
	if err != nil {
		t.Fatalf("verify minted token: %v", err)
	}
	if identity.Subject != "agent@desk.example" {
		t.Fatalf("subject = %q, want %q", identity.Subject, "agent@desk.example")
	}
	if identity.Role != token.RoleAgent {
		t.Fatalf("role = %q, want %q", identity.Role, token.RoleAgent)
	}
}

func TestRunRejectsInvalidInput(t *testing.T) {
	valid := Config{Secret: "s3cret", Subject: "user@desk.example", Role: "user", TTL: time.Hour}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing secret", func(c *Config) { c.Secret = " " }},
		{"missing subject", func(c *Config) { c.Subject = "" }},
		{"unknown role", func(c *Config) { c.Role = "superuser" }},
		{"non-positive ttl", func(c *Config) { c.TTL = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if err := Run(cfg, &bytes.Buffer{}, testNow); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRunNilOutput(t *testing.T) {
	cfg := Config{Secret: "s3cret", Subject: "user@desk.example", Role: "user", TTL: time.Hour}
	if err := Run(cfg, nil, testNow); err == nil {
		t.Fatal("expected error for nil output")
	}
}
