package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/internal/vault"
	"github.com/jamesmcfarland/keyforge/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Version is reported by the banner endpoint.
var Version = "0.1.0"

// InstanceGetter looks up instances.
type InstanceGetter interface {
	GetInstance(ctx context.Context, id string) (*model.Instance, error)
}

// HealthHandler serves the public status endpoints.
type HealthHandler struct {
	db        *gorm.DB
	instances InstanceGetter
	vault     vault.Backend
}

// NewHealthHandler returns a HealthHandler.
func NewHealthHandler(db *gorm.DB, instances InstanceGetter, backend vault.Backend) *HealthHandler {
	return &HealthHandler{db: db, instances: instances, vault: backend}
}

// Banner describes the service.
func (h *HealthHandler) Banner(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"name":    "Keyforge API",
		"version": Version,
		"status":  "running",
	})
}

// Health reports process health; ?check=db also pings the database.
func (h *HealthHandler) Health(c echo.Context) error {
	log := logger.FromEcho(c)

	response := echo.Map{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if c.QueryParam("check") != "db" {
		return c.JSON(http.StatusOK, response)
	}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request().Context())
	}
	if err != nil {
		log.Error("Database ping error", zap.Error(err))
		response["status"] = "error"
		response["db_status"] = "error"
		return c.JSON(http.StatusServiceUnavailable, response)
	}
	response["db_status"] = "ok"
	return c.JSON(http.StatusOK, response)
}

// VaultHealthResponse is the body of the vault health endpoint.
type VaultHealthResponse struct {
	Status     vault.HealthStatus `json:"status"`
	InstanceID string             `json:"instance_id"`
	Message    string             `json:"message,omitempty"`
	CheckedAt  int64              `json:"checked_at"`
}

// VaultHealth probes the vault of an instance.
func (h *HealthHandler) VaultHealth(c echo.Context) error {
	id := c.Param("instance_id")
	inst, err := h.instances.GetInstance(c.Request().Context(), id)
	if err != nil {
		return err
	}

	if inst.Status != model.InstanceReady {
		return c.JSON(http.StatusServiceUnavailable, VaultHealthResponse{
			Status:     vault.Unhealthy,
			InstanceID: id,
			Message:    fmt.Sprintf("Instance status is %s", inst.Status),
			CheckedAt:  time.Now().UnixMilli(),
		})
	}

	result := h.vault.CheckHealth(c.Request().Context(), inst.BackendURL)
	status := http.StatusOK
	if result.Status != vault.Healthy {
		status = http.StatusServiceUnavailable
		logger.FromEcho(c).Warn("Vault unhealthy", zap.String("instance_id", id), zap.String("message", result.Message))
	}
	return c.JSON(status, VaultHealthResponse{
		Status:     result.Status,
		InstanceID: id,
		Message:    result.Message,
		CheckedAt:  time.Now().UnixMilli(),
	})
}
