package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// JWTConfig configures token verification.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
}

type claims struct {
	jwt.RegisteredClaims
	Username    string   `json:"preferred_username"`
	Superuser   bool     `json:"superuser"`
	Authorities []string `json:"authorities"`
	OrgUnits    []string `json:"org_unit_paths"`
	Programs    []string `json:"programs"`
	Stages      []string `json:"program_stages"`
	CategoryOpt []string `json:"category_options"`
}

// JWTMiddleware verifies the bearer token and resolves the calling user
// into both the echo context and the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			cl := &claims{}
			opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}
			tok, err := jwt.ParseWithClaims(raw, cl, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return cfg.Secret, nil
			}, opts...)
			if err != nil || !tok.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			u := &User{
				UID:                       cl.Subject,
				Username:                  cl.Username,
				Superuser:                 cl.Superuser,
				Authorities:               toSet(cl.Authorities),
				OrgUnitPaths:              cl.OrgUnits,
				AccessiblePrograms:        toSet(cl.Programs),
				AccessibleStages:          toSet(cl.Stages),
				AccessibleCategoryOptions: toSet(cl.CategoryOpt),
			}

			c.Set("user", u)
			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), u)))
			return next(c)
		}
	}
}

// DevAuthMiddleware injects a superuser for local development.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u := &User{
				UID:       "dev",
				Username:  "admin",
				Superuser: true,
			}
			c.Set("user", u)
			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), u)))
			return next(c)
		}
	}
}

func toSet(ss []string) map[string]bool {
	if len(ss) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ss))
	for _, s := range ss {
		set[s] = true
	}
	return set
}
