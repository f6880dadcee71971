// Package auth issues and validates the bearer tokens of the fiscal API.
package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	appctx "shopfiscal/internal/core/context"
	"shopfiscal/internal/core/id"
)

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
}

// DefaultJWTConfig returns default JWT configuration.
func DefaultJWTConfig(secret string) JWTConfig {
	return JWTConfig{
		Secret:         secret,
		Issuer:         "shopfiscal",
		AccessTokenTTL: 15 * time.Minute,
	}
}

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID  string   `json:"uid"`
	Email   string   `json:"email"`
	Roles   []string `json:"roles"`
	OrgIDs  []string `json:"orgs,omitempty"`
	IsAdmin bool     `json:"adm,omitempty"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Actor   appctx.Actor
	OrgIDs  []string
	IsAdmin bool
}

// CanAccessOrg reports whether the principal may act on behalf of orgID.
// Admins reach every organization.
func (p *Principal) CanAccessOrg(orgID id.ID) bool {
	if p.IsAdmin {
		return true
	}
	return slices.Contains(p.OrgIDs, orgID.String())
}

// TokenRequest describes the principal a token is issued for.
type TokenRequest struct {
	UserID  string
	Email   string
	Roles   []string
	OrgIDs  []string
	IsAdmin bool
}

// JWTService handles JWT operations.
type JWTService struct {
	config JWTConfig
	now    func() time.Time
}

// NewJWTService creates a new JWT service.
func NewJWTService(config JWTConfig) *JWTService {
	return &JWTService{config: config, now: time.Now}
}

// GenerateAccessToken signs a token for req.
func (s *JWTService) GenerateAccessToken(req TokenRequest) (string, time.Time, error) {
	if req.UserID == "" {
		return "", time.Time{}, fmt.Errorf("user id is required")
	}
	now := s.now()
	expiresAt := now.Add(s.config.AccessTokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   req.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:  req.UserID,
		Email:   req.Email,
		Roles:   req.Roles,
		OrgIDs:  req.OrgIDs,
		IsAdmin: req.IsAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateToken validates a token and returns its principal.
func (s *JWTService) ValidateToken(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	}, jwt.WithIssuer(s.config.Issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token carries no user id")
	}

	return &Principal{
		Actor: appctx.Actor{
			UserID: claims.UserID,
			Email:  claims.Email,
			Roles:  claims.Roles,
		},
		OrgIDs:  claims.OrgIDs,
		IsAdmin: claims.IsAdmin,
	}, nil
}
