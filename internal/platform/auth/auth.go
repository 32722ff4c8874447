// Package auth authenticates callers and exposes the acting principal to
// handlers. Deciding what a principal may do beyond role membership is left
// to the route groups.
package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const principalKey contextKey = "principal"

const (
	RoleAdmin  = "admin"
	RoleDoctor = "doctor"
	RoleNurse  = "nurse"
	RoleClerk  = "clerk"
)

// Principal is the authenticated caller.
type Principal struct {
	ID    uuid.UUID
	Name  string
	Roles []string
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Claims struct {
	jwt.RegisteredClaims
	Name       string   `json:"name"`
	FacilityID string   `json:"facility_id"`
	Roles      []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// SigningKey verifies HS256 tokens.
	SigningKey []byte
	// PublicKey verifies RS256 tokens issued by an external identity provider.
	PublicKey *rsa.PublicKey
}

// LoadPublicKey reads a PEM encoded RSA public key.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return key, nil
}

func (cfg JWTConfig) keyFunc(t *jwt.Token) (interface{}, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(cfg.SigningKey) == 0 {
			return nil, fmt.Errorf("hmac tokens are not accepted")
		}
		return cfg.SigningKey, nil
	case *jwt.SigningMethodRSA:
		if cfg.PublicKey == nil {
			return nil, fmt.Errorf("rsa tokens are not accepted")
		}
		return cfg.PublicKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
	}
}

// ParseToken validates tokenStr and returns its claims.
func (cfg JWTConfig) ParseToken(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, cfg.keyFunc, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// IssueToken signs an HS256 token for p. Used by the CLI for local testing.
func (cfg JWTConfig) IssueToken(p Principal, facilityID string, ttl time.Duration, now time.Time) (string, error) {
	if len(cfg.SigningKey) == 0 {
		return "", fmt.Errorf("no signing key configured")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:       p.Name,
		FacilityID: facilityID,
		Roles:      p.Roles,
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.SigningKey)
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims, err := cfg.ParseToken(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			id, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "token subject must be a user id")
			}

			c.Set("jwt_facility_id", claims.FacilityID)
			setPrincipal(c, Principal{ID: id, Name: claims.Name, Roles: claims.Roles})
			return next(c)
		}
	}
}

// DevUserID is the fixed principal used when development auth is enabled.
var DevUserID = uuid.MustParse("00000000-0000-4000-8000-000000000001")

// DevAuthMiddleware trusts the caller. X-Dev-Roles (comma separated),
// X-Dev-User-ID and X-Dev-Name override the default admin principal.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := Principal{ID: DevUserID, Name: "Development User", Roles: []string{RoleAdmin}}
			if roles := c.Request().Header.Get("X-Dev-Roles"); roles != "" {
				p.Roles = strings.Split(roles, ",")
			}
			if id, err := uuid.Parse(c.Request().Header.Get("X-Dev-User-ID")); err == nil {
				p.ID = id
			}
			if name := c.Request().Header.Get("X-Dev-Name"); name != "" {
				p.Name = name
			}
			setPrincipal(c, p)
			return next(c)
		}
	}
}

func setPrincipal(c echo.Context, p Principal) {
	ctx := context.WithValue(c.Request().Context(), principalKey, p)
	c.SetRequest(c.Request().WithContext(ctx))
}

// WithPrincipal attaches p to ctx. Tests use it to fake authentication.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
