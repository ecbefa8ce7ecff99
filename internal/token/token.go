// Package token mints and verifies the service's bearer tokens and keeps
// the store-backed denylist of revoked refresh tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parleychat/parley/internal/errs"
)

// Claims carried by both access and refresh tokens.
type Claims struct {
	UserID string `json:"_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and parses tokens. Access and refresh tokens use
// different secrets; a refresh token never validates as an access token.
type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration

	// now is swappable so tests can drive the clock.
	now func() time.Time
}

// Pair is one issued access/refresh token pair.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// NewManager creates a token manager.
func NewManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// SetClock overrides the manager clock. Test helper.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Issue mints an access/refresh pair for the user.
func (m *Manager) Issue(userID, email, role string) (Pair, error) {
	access, err := m.sign(userID, email, role, m.accessSecret, m.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := m.sign(userID, email, role, m.refreshSecret, m.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *Manager) sign(userID, email, role string, secret []byte, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAccess verifies signature and expiry of an access token.
func (m *Manager) ParseAccess(raw string) (*Claims, error) {
	return m.parse(raw, m.accessSecret)
}

// ParseRefresh verifies signature and expiry of a refresh token.
func (m *Manager) ParseRefresh(raw string) (*Claims, error) {
	return m.parse(raw, m.refreshSecret)
}

func (m *Manager) parse(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errs.Unauthorized("token expired")
		}
		return nil, errs.Unauthorized("invalid token")
	}
	if !tok.Valid {
		return nil, errs.Unauthorized("invalid token")
	}
	return claims, nil
}

// ExtractExpiry decodes a token WITHOUT verification and returns its
// expiry. Used by the denylist to size marker TTLs; a forged expiry only
// shortens or lengthens the marker on a token that will never verify.
func ExtractExpiry(raw string) (time.Time, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return time.Time{}, fmt.Errorf("decode token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("token has no expiry")
	}
	return claims.ExpiresAt.Time, nil
}
