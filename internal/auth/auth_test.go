package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driveguard/internal/config"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)
	assert.True(t, CheckPasswordHash("hunter22", hash))
	assert.False(t, CheckPasswordHash("hunter23", hash))
}

func TestTokensIssueAndParse(t *testing.T) {
	tokens := NewTokens("s3cret", "driveguard", time.Hour)
	signed, expires, err := tokens.Issue("u1", "a@b.c", "org1", "admin")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := tokens.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "org1", claims.OrgID)
	assert.Equal(t, "a@b.c", claims.Email)

	_, err = NewTokens("other", "driveguard", time.Hour).Parse(signed)
	assert.Error(t, err, "wrong secret")
	_, err = NewTokens("s3cret", "someone-else", time.Hour).Parse(signed)
	assert.Error(t, err, "wrong issuer")
}

func TestTokensExpire(t *testing.T) {
	tokens := NewTokens("s3cret", "driveguard", time.Minute)
	signed, _, err := tokens.Issue("u1", "a@b.c", "org1", "member")
	require.NoError(t, err)
	tokens.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = tokens.Parse(signed)
	assert.Error(t, err)
}

func TestIssueWithoutSecret(t *testing.T) {
	_, _, err := NewTokens("", "", time.Hour).Issue("u", "e", "o", "r")
	assert.Error(t, err)
}

func TestVerifierJWTMode(t *testing.T) {
	v := NewVerifier(config.Auth{Mode: config.AuthJWT, JWTSecret: "k", Issuer: "driveguard", TokenTTL: time.Hour})
	signed, _, err := v.Tokens.Issue("u1", "a@b.c", "org1", "Admin")
	require.NoError(t, err)

	p, err := v.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u1", OrgID: "org1", Role: "admin", Email: "a@b.c"}, p)
	assert.True(t, p.IsAdmin())

	_, err = v.Verify("u1:org1:admin")
	assert.Error(t, err, "dev tokens are rejected in jwt mode")
	assert.False(t, v.Dev())
}

func TestVerifierDevMode(t *testing.T) {
	v := NewVerifier(config.Auth{Mode: config.AuthDev, Issuer: "driveguard"})
	assert.True(t, v.Dev())

	p, err := v.Verify("u9:org9:member")
	require.NoError(t, err)
	assert.Equal(t, "org9", p.OrgID)
	assert.False(t, p.IsAdmin())

	_, err = v.Verify("org-only")
	assert.Error(t, err)

	signed, _, err := v.Tokens.Issue("u1", "a@b.c", "org1", "admin")
	require.NoError(t, err)
	p, err = v.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "org1", p.OrgID)
}
