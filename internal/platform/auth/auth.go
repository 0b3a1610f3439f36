// Package auth resolves who is calling the inspector and whether their role
// allows the request.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-inspect/internal/platform/env"
)

// Mode selects the Authenticator built by New.
type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

func ParseMode(raw string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case ModeOIDC, ModeDev, ModeDisabled:
		return mode, nil
	default:
		return "", fmt.Errorf("AUTH_MODE must be one of: oidc, dev, disabled (got %q)", raw)
	}
}

type Config struct {
	Mode Mode

	// Claims read from verified ID tokens.
	RolesClaim string
	EmailClaim string

	OIDCIssuerURL string
	OIDCClientID  string

	// Fixed identity handed out in dev mode.
	DevSubject string
	DevEmail   string
	DevRoles   []string
}

func ConfigFromEnv() (Config, error) {
	mode, err := ParseMode(env.String("AUTH_MODE", string(ModeDisabled)))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Mode:          mode,
		RolesClaim:    env.String("AUTH_ROLES_CLAIM", "roles"),
		EmailClaim:    env.String("AUTH_EMAIL_CLAIM", "email"),
		OIDCIssuerURL: env.String("OIDC_ISSUER_URL", ""),
		OIDCClientID:  env.String("OIDC_CLIENT_ID", ""),
		DevSubject:    env.String("DEV_AUTH_SUBJECT", "dev-user"),
		DevEmail:      env.String("DEV_AUTH_EMAIL", "dev-user@example.local"),
		DevRoles:      normalizeRoles(env.CSV("DEV_AUTH_ROLES", []string{RoleEditor})),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var missing []string
	require := func(value, name string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	switch c.Mode {
	case ModeOIDC:
		require(c.OIDCIssuerURL, "OIDC_ISSUER_URL")
		require(c.OIDCClientID, "OIDC_CLIENT_ID")
		require(c.RolesClaim, "AUTH_ROLES_CLAIM")
	case ModeDev:
		require(c.DevSubject, "DEV_AUTH_SUBJECT")
		if len(c.DevRoles) == 0 {
			missing = append(missing, "DEV_AUTH_ROLES")
		}
	case ModeDisabled:
		return nil
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	if len(missing) > 0 {
		return fmt.Errorf("AUTH_MODE=%s requires %s", c.Mode, strings.Join(missing, ", "))
	}
	return nil
}

// normalizeRoles lower-cases, trims and de-duplicates role names, keeping
// their first-seen order.
func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" || containsRole(out, role) {
			continue
		}
		out = append(out, role)
	}
	return out
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
