package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried in DriveGuard access tokens.
type Claims struct {
	Email string `json:"email"`
	OrgID string `json:"org"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues and parses HS256 access tokens.
type Tokens struct {
	Secret []byte
	Issuer string
	TTL    time.Duration

	now func() time.Time
}

func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{Secret: []byte(secret), Issuer: issuer, TTL: ttl, now: time.Now}
}

// Issue signs a token for the given user.
func (t *Tokens) Issue(userID, email, orgID, role string) (string, time.Time, error) {
	if len(t.Secret) == 0 {
		return "", time.Time{}, errors.New("token secret not configured")
	}
	now := t.now()
	expires := now.Add(t.TTL)
	claims := &Claims{
		Email: email,
		OrgID: orgID,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    t.Issuer,
			Subject:   userID,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Parse validates signature, expiry and issuer.
func (t *Tokens) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithTimeFunc(t.now)}
	if t.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.Secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
