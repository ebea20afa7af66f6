// Package authtoken issues and validates the access/refresh bearer token
// pair, with refresh rotation and reuse detection backed by a shared kv
// store keyed by jti.
package authtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/pkg/models"
)

var (
	ErrInvalidToken = errors.New("authtoken: invalid token")
	ErrExpiredToken = errors.New("authtoken: token expired")
	ErrRevoked      = errors.New("authtoken: token revoked")
	ErrWrongType    = errors.New("authtoken: wrong token type")
)

// Config configures token issuance. AccessTTL/RefreshTTL correspond to
// ACCESS_TOKEN_EXPIRE_MINUTES/REFRESH_TOKEN_EXPIRE_DAYS.
type Config struct {
	Secret    []byte
	AccessTTL time.Duration
	RefreshTTL time.Duration
}

// claims is the signed payload: {sub, role, exp, type, jti}.
type claims struct {
	Role string          `json:"role,omitempty"`
	Type models.TokenType `json:"type"`
	jwt.RegisteredClaims
}

// Service issues and validates access/refresh tokens.
type Service struct {
	cfg Config
}

// NewService wires a signing secret and token lifetimes into a Service.
func NewService(cfg Config) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &Service{cfg: cfg}
}

// IssuePair mints a fresh access and refresh token for subject/role.
func (s *Service) IssuePair(subject, role string) (access, refresh string, accessClaims, refreshClaims models.TokenClaims, err error) {
	access, accessClaims, err = s.issue(subject, role, models.TokenAccess, s.cfg.AccessTTL)
	if err != nil {
		return "", "", models.TokenClaims{}, models.TokenClaims{}, err
	}
	refresh, refreshClaims, err = s.issue(subject, role, models.TokenRefresh, s.cfg.RefreshTTL)
	if err != nil {
		return "", "", models.TokenClaims{}, models.TokenClaims{}, err
	}
	return access, refresh, accessClaims, refreshClaims, nil
}

func (s *Service) issue(subject, role string, typ models.TokenType, ttl time.Duration) (string, models.TokenClaims, error) {
	now := time.Now()
	jti := uuid.NewString()
	exp := now.Add(ttl)

	c := claims{
		Role: role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.cfg.Secret)
	if err != nil {
		return "", models.TokenClaims{}, fmt.Errorf("authtoken: sign: %w", err)
	}

	return signed, models.TokenClaims{
		Subject:   subject,
		Role:      role,
		Type:      typ,
		JTI:       jti,
		ExpiresAt: exp,
		IssuedAt:  now,
	}, nil
}

// Parse validates signature and expiry and returns the claims, without
// consulting revocation state (callers check that via Store separately).
func (s *Service) Parse(token string, want models.TokenType) (models.TokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.cfg.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return models.TokenClaims{}, ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || c.Subject == "" || c.ID == "" {
		return models.TokenClaims{}, ErrInvalidToken
	}
	if c.Type != want {
		return models.TokenClaims{}, ErrWrongType
	}

	out := models.TokenClaims{
		Subject: c.Subject,
		Role:    c.Role,
		Type:    c.Type,
		JTI:     c.ID,
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if out.Expired(time.Now()) {
		return models.TokenClaims{}, ErrExpiredToken
	}
	return out, nil
}
