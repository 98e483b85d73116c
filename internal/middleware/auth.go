// Package middleware holds the echo middleware that authenticates and
// authorises keyforge callers.
package middleware

import (
	"context"
	"crypto/ecdsa"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jamesmcfarland/keyforge/internal/token"
	"github.com/jamesmcfarland/keyforge/pkg/logger"
	"github.com/jamesmcfarland/keyforge/prometheus"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	// ClaimsKey is the echo context key holding verified token claims.
	ClaimsKey = "jwt"
	// TokenKey holds the raw bearer token of a verified request.
	TokenKey = "jwt_raw"
	// AdminKeyAuthKey is set when the request presented the admin API key.
	AdminKeyAuthKey = "admin_api_key"
)

// KeyResolver finds the key that must verify a token.
type KeyResolver interface {
	ResolveVerificationKey(ctx context.Context, subject, tenantID string) (*ecdsa.PublicKey, error)
}

// FailureRecorder persists rejected authentication attempts.
type FailureRecorder interface {
	RecordAuthFailure(endpoint, method, reason string, status int)
}

// Authenticator verifies bearer credentials.
type Authenticator struct {
	keys     KeyResolver
	verifier *token.Verifier
	revoked  token.RevocationChecker
	audit    FailureRecorder
	adminKey string
}

// NewAuthenticator returns an Authenticator. adminKey is the API key
// accepted on admin routes; an empty key disables API key access.
func NewAuthenticator(keys KeyResolver, verifier *token.Verifier, revoked token.RevocationChecker, audit FailureRecorder, adminKey string) *Authenticator {
	return &Authenticator{
		keys:     keys,
		verifier: verifier,
		revoked:  revoked,
		audit:    audit,
		adminKey: adminKey,
	}
}

// authError is a rejected credential. reason is recorded in the audit
// trail, msg is returned to the caller and label tags the metric.
type authError struct {
	label  string
	reason string
	msg    string
}

func (e *authError) Error() string { return e.reason }

func bearer(c echo.Context) (string, *authError) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return "", &authError{"missing_header", "No authorization header", "No authorization token"}
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", &authError{"invalid_format", "Invalid authorization header format", "Invalid authorization header format"}
	}
	return parts[1], nil
}

// verify runs the full token check: decode, key lookup, signature and
// time bounds, then revocation.
func (a *Authenticator) verify(ctx context.Context, raw string) (*token.Claims, *authError) {
	unverified, err := token.DecodeUnverified(raw)
	if err != nil {
		return nil, &authError{"malformed", "Malformed JWT token", "Invalid token"}
	}

	key, err := a.keys.ResolveVerificationKey(ctx, unverified.Subject, unverified.TenantID)
	if err != nil {
		return nil, &authError{"key_lookup", fmt.Sprintf("Key lookup failed: %v", err), "Unknown instance or invalid token"}
	}
	if key == nil {
		return nil, &authError{"unknown_subject", fmt.Sprintf("Unknown subject: %s", unverified.Subject), "Unknown instance or invalid token"}
	}

	claims, err := a.verifier.VerifyWithRevocation(ctx, raw, key, a.revoked)
	if err != nil {
		if errors.Is(err, token.ErrRevoked) {
			return nil, &authError{"revoked", "JWT revoked", "Token has been revoked"}
		}
		return nil, &authError{"invalid_token", fmt.Sprintf("JWT verification failed: %v", err), "Invalid token signature or expired"}
	}
	return claims, nil
}

var errUnauthenticated = &authError{"unauthenticated", "No verified token in request", "Authentication required"}

func (a *Authenticator) reject(c echo.Context, status int, e *authError) error {
	logger.FromEcho(c).Warn("Request rejected",
		zap.String("path", c.Request().URL.Path),
		zap.String("reason", e.reason))
	prometheus.RecordAuthFailure(e.label)
	if a.audit != nil {
		a.audit.RecordAuthFailure(c.Request().URL.Path, c.Request().Method, e.reason, status)
	}
	return c.JSON(status, echo.Map{"error": e.msg})
}

func (a *Authenticator) accept(c echo.Context, raw string, claims *token.Claims) {
	c.Set(ClaimsKey, claims)
	c.Set(TokenKey, raw)
	prometheus.RecordAuthSuccess()
	logger.FromEcho(c).Info("Request authenticated",
		zap.String("sub", claims.Subject),
		zap.String("tenant_id", claims.TenantID),
		zap.String("token_request_id", claims.RequestID),
		zap.Bool("is_admin", claims.IsAdmin))
}

// JWTAuth requires a valid, unrevoked bearer token.
func (a *Authenticator) JWTAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, aerr := bearer(c)
			if aerr != nil {
				return a.reject(c, http.StatusUnauthorized, aerr)
			}
			claims, aerr := a.verify(c.Request().Context(), raw)
			if aerr != nil {
				return a.reject(c, http.StatusUnauthorized, aerr)
			}
			a.accept(c, raw, claims)
			return next(c)
		}
	}
}

// AdminAuth accepts the admin API key or a verified admin token.
func (a *Authenticator) AdminAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, aerr := bearer(c)
			if aerr != nil {
				return a.reject(c, http.StatusUnauthorized, aerr)
			}
			if a.adminKey != "" && subtle.ConstantTimeCompare([]byte(raw), []byte(a.adminKey)) == 1 {
				c.Set(AdminKeyAuthKey, true)
				prometheus.RecordAuthSuccess()
				return next(c)
			}

			// anything that is not a token is a wrong API key
			if strings.Count(raw, ".") != 2 {
				return a.reject(c, http.StatusUnauthorized, &authError{"invalid_api_key", "Invalid API key", "Invalid API key"})
			}
			claims, aerr := a.verify(c.Request().Context(), raw)
			if aerr != nil {
				return a.reject(c, http.StatusUnauthorized, aerr)
			}
			if !claims.IsAdmin {
				return a.reject(c, http.StatusForbidden, &authError{"forbidden", "Admin access required", "Admin access required"})
			}
			a.accept(c, raw, claims)
			return next(c)
		}
	}
}

// RequireAdmin lets only admin tokens through. It must follow JWTAuth.
func (a *Authenticator) RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := GetClaims(c)
			if claims == nil {
				return a.reject(c, http.StatusUnauthorized, errUnauthenticated)
			}
			if !claims.IsAdmin {
				return a.reject(c, http.StatusForbidden, &authError{"forbidden", "Admin access required", "Admin access required"})
			}
			return next(c)
		}
	}
}

// RequireInstance restricts non-admin tokens to the instance named by the
// route parameter param. It must follow JWTAuth.
func (a *Authenticator) RequireInstance(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := GetClaims(c)
			if claims == nil {
				return a.reject(c, http.StatusUnauthorized, errUnauthenticated)
			}
			if claims.IsAdmin {
				return next(c)
			}
			requested := c.Param(param)
			if requested != claims.TenantID {
				return a.reject(c, http.StatusForbidden, &authError{
					label:  "instance_mismatch",
					reason: fmt.Sprintf("Instance mismatch: JWT=%s, Requested=%s", claims.TenantID, requested),
					msg:    "Access denied to this instance",
				})
			}
			return next(c)
		}
	}
}

// GetClaims returns the verified claims of the request, or nil.
func GetClaims(c echo.Context) *token.Claims {
	claims, _ := c.Get(ClaimsKey).(*token.Claims)
	return claims
}

// GetToken returns the raw verified bearer token of the request.
func GetToken(c echo.Context) string {
	raw, _ := c.Get(TokenKey).(string)
	return raw
}

// IsAdminKey reports whether the request authenticated with the admin API key.
func IsAdminKey(c echo.Context) bool {
	ok, _ := c.Get(AdminKeyAuthKey).(bool)
	return ok
}
