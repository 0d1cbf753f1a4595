// Package auth provides password hashing, token issuance and request verification.
package auth

import (
	"errors"
	"strings"

	"driveguard/internal/config"
)

// devSecret signs tokens when dev mode runs without a configured secret.
const devSecret = "driveguard-dev-secret"

// Principal identifies the caller of a request.
type Principal struct {
	UserID string
	OrgID  string
	Role   string
	Email  string
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// Verifier validates bearer tokens.
// Modes: jwt (signed tokens only) and dev (signed tokens or plain "user:org:role").
type Verifier struct {
	Mode   string
	Tokens *Tokens
}

func NewVerifier(cfg config.Auth) *Verifier {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = config.AuthDev
	}
	secret := cfg.JWTSecret
	if secret == "" && mode == config.AuthDev {
		secret = devSecret
	}
	return &Verifier{Mode: mode, Tokens: NewTokens(secret, cfg.Issuer, cfg.TokenTTL)}
}

// Dev reports whether unsigned dev tokens and identity headers are accepted.
func (v *Verifier) Dev() bool { return v.Mode == config.AuthDev }

func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, errors.New("empty token")
	}
	if strings.Count(token, ".") == 2 {
		claims, err := v.Tokens.Parse(token)
		if err != nil {
			return Principal{}, err
		}
		if claims.OrgID == "" {
			return Principal{}, errors.New("missing org claim")
		}
		role := strings.ToLower(claims.Role)
		if role == "" {
			role = "member"
		}
		return Principal{UserID: claims.Subject, OrgID: claims.OrgID, Role: role, Email: claims.Email}, nil
	}
	if !v.Dev() {
		return Principal{}, errors.New("invalid JWT")
	}
	// token format: user:org:role
	parts := strings.Split(token, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Principal{}, errors.New("invalid dev token; expected user:org:role")
	}
	role := strings.ToLower(parts[2])
	if role == "" {
		role = "member"
	}
	return Principal{UserID: parts[0], OrgID: parts[1], Role: role}, nil
}
