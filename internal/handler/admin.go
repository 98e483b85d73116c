package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/jamesmcfarland/keyforge/internal/errs"
	"github.com/jamesmcfarland/keyforge/internal/model"
	"github.com/jamesmcfarland/keyforge/internal/registry"
	"github.com/jamesmcfarland/keyforge/internal/service"
	"github.com/jamesmcfarland/keyforge/internal/tracker"
	"github.com/jamesmcfarland/keyforge/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Deployments reads provisioning progress.
type Deployments interface {
	DeploymentDetail(ctx context.Context, id string) (*registry.DeploymentDetail, error)
	GetInstance(ctx context.Context, id string) (*model.Instance, error)
}

// Journal reads deployment events and logs.
type Journal interface {
	Events(ctx context.Context, deploymentID string) ([]model.DeploymentEvent, error)
	Logs(ctx context.Context, deploymentID string, q tracker.LogQuery) ([]model.DeploymentLog, int64, error)
}

// AdminHandler serves the /admin routes.
type AdminHandler struct {
	instances   *service.InstanceService
	deployments Deployments
	journal     Journal
}

// NewAdminHandler returns an AdminHandler.
func NewAdminHandler(instances *service.InstanceService, deployments Deployments, journal Journal) *AdminHandler {
	return &AdminHandler{instances: instances, deployments: deployments, journal: journal}
}

// CreateInstanceRequest is the body of POST /admin/instances.
type CreateInstanceRequest struct {
	Name string `json:"name"`
}

// CreateInstance records an instance and starts provisioning it.
func (h *AdminHandler) CreateInstance(c echo.Context) error {
	log := logger.FromEcho(c)

	var req CreateInstanceRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Invalid request data", zap.Error(err))
		return badRequest("Invalid request data")
	}

	created, err := h.instances.Create(c.Request().Context(), req.Name)
	if err != nil {
		return err
	}
	log.Info("Instance accepted", zap.String("instance_id", created.InstanceID))
	return c.JSON(http.StatusAccepted, created)
}

// ListInstances returns every instance.
func (h *AdminHandler) ListInstances(c echo.Context) error {
	instances, err := h.instances.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"instances": instances})
}

// GetInstance returns one instance.
func (h *AdminHandler) GetInstance(c echo.Context) error {
	inst, err := h.instances.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inst)
}

// DeleteInstance tears an instance down.
func (h *AdminHandler) DeleteInstance(c echo.Context) error {
	if err := h.instances.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Instance deleted successfully"})
}

// RevokeInstanceKey revokes the token key of an instance.
func (h *AdminHandler) RevokeInstanceKey(c echo.Context) error {
	id := c.Param("id")
	n, err := h.instances.RevokeKey(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"instance_id": id,
		"revoked":     n,
		"message":     "Instance key revoked",
	})
}

// ListDeployments returns every instance as a deployment.
func (h *AdminHandler) ListDeployments(c echo.Context) error {
	instances, err := h.instances.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"deployments": instances})
}

// GetDeployment returns an instance with its organisations and events.
func (h *AdminHandler) GetDeployment(c echo.Context) error {
	detail, err := h.deployments.DeploymentDetail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *AdminHandler) requireDeployment(c echo.Context) (string, error) {
	id := c.Param("id")
	if _, err := h.deployments.GetInstance(c.Request().Context(), id); err != nil {
		if errs.ErrorCode(err) == errs.ENotFound {
			return "", errs.Wrap(registry.ErrDeploymentNotFound, "handler.requireDeployment")
		}
		return "", err
	}
	return id, nil
}

// DeploymentEvents returns the events of a deployment, oldest first.
func (h *AdminHandler) DeploymentEvents(c echo.Context) error {
	id, err := h.requireDeployment(c)
	if err != nil {
		return err
	}
	events, err := h.journal.Events(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"deployment_id": id, "events": events})
}

// DeploymentLogs returns a page of deployment logs, newest first.
// Query: level, since (Unix milliseconds), page (from 1), limit.
func (h *AdminHandler) DeploymentLogs(c echo.Context) error {
	id, err := h.requireDeployment(c)
	if err != nil {
		return err
	}

	q := tracker.LogQuery{Limit: tracker.DefaultLogLimit}
	if level := c.QueryParam("level"); level != "" {
		q.Level = model.LogLevel(level)
		if !q.Level.Valid() {
			return badRequest("Invalid log level")
		}
	}
	if since := c.QueryParam("since"); since != "" {
		ms, err := strconv.ParseInt(since, 10, 64)
		if err != nil {
			return badRequest("Invalid since parameter")
		}
		t := time.UnixMilli(ms).UTC()
		q.Since = &t
	}
	page := 1
	if p := c.QueryParam("page"); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil || v < 1 {
			return badRequest("Invalid page parameter")
		}
		page = v
	}
	if l := c.QueryParam("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 1 {
			return badRequest("Invalid limit parameter")
		}
		q.Limit = min(v, tracker.MaxLogLimit)
	}
	q.Offset = (page - 1) * q.Limit

	logs, total, err := h.journal.Logs(c.Request().Context(), id, q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"deployment_id": id,
		"logs":          logs,
		"total":         total,
		"page":          page,
		"limit":         q.Limit,
	})
}
