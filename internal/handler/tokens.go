package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jamesmcfarland/keyforge/internal/errs"
	"github.com/jamesmcfarland/keyforge/internal/middleware"
	"github.com/jamesmcfarland/keyforge/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Revoker records revoked tokens.
type Revoker interface {
	Revoke(ctx context.Context, jti, tenantID string, expiresAt time.Time) error
}

// TokenHandler serves token revocation.
type TokenHandler struct {
	revoker Revoker
}

// NewTokenHandler returns a TokenHandler.
func NewTokenHandler(revoker Revoker) *TokenHandler {
	return &TokenHandler{revoker: revoker}
}

// RevokeTokenRequest is the body of POST /admin/tokens/revoke. ExpiresAt is
// the exp claim of the token, in Unix seconds.
type RevokeTokenRequest struct {
	JTI       string `json:"jti"`
	TenantID  string `json:"tenant_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// Revoke revokes any token by (jti, tenant).
func (h *TokenHandler) Revoke(c echo.Context) error {
	var req RevokeTokenRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("Invalid request data")
	}
	if req.JTI == "" || req.TenantID == "" || req.ExpiresAt <= 0 {
		return badRequest("jti, tenant_id and expires_at are required")
	}

	if err := h.revoker.Revoke(c.Request().Context(), req.JTI, req.TenantID, time.Unix(req.ExpiresAt, 0)); err != nil {
		return errs.Internal("handler.RevokeToken", err)
	}
	logger.FromEcho(c).Info("Token revoked", zap.String("jti", req.JTI), zap.String("tenant_id", req.TenantID))
	return c.JSON(http.StatusOK, echo.Map{"message": "Token revoked", "jti": req.JTI, "tenant_id": req.TenantID})
}

// RevokeSelf revokes the token the request was made with.
func (h *TokenHandler) RevokeSelf(c echo.Context) error {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return errs.New(errs.EUnauthorized, "Authentication required")
	}
	if err := h.revoker.Revoke(c.Request().Context(), claims.JTI, claims.TenantID, claims.ExpiresAtTime()); err != nil {
		return errs.Internal("handler.RevokeSelf", err)
	}
	logger.FromEcho(c).Info("Token revoked by holder", zap.String("jti", claims.JTI), zap.String("tenant_id", claims.TenantID))
	return c.JSON(http.StatusOK, echo.Map{"message": "Token revoked", "jti": claims.JTI, "tenant_id": claims.TenantID})
}
