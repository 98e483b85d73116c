package handler

import (
	"github.com/jamesmcfarland/keyforge/internal/middleware"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router wires the handlers to their routes and guards.
type Router struct {
	Health        *HealthHandler
	Admin         *AdminHandler
	Organisations *OrganisationHandler
	Tokens        *TokenHandler
	Auth          *middleware.Authenticator
	Audit         middleware.AuditRecorder
}

// Register mounts every route on e.
func (r *Router) Register(e *echo.Echo) {
	e.GET("/", r.Health.Banner)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/health", r.Health.Health)
	e.GET("/health/vaultwd/:instance_id", r.Health.VaultHealth)

	admin := e.Group("/admin", middleware.Audit(r.Audit), r.Auth.AdminAuth())
	admin.POST("/instances", r.Admin.CreateInstance)
	admin.GET("/instances", r.Admin.ListInstances)
	admin.GET("/instances/:id", r.Admin.GetInstance)
	admin.DELETE("/instances/:id", r.Admin.DeleteInstance)
	admin.POST("/instances/:id/keys/revoke", r.Admin.RevokeInstanceKey)
	admin.POST("/tokens/revoke", r.Tokens.Revoke)
	admin.GET("/deployments", r.Admin.ListDeployments)
	admin.GET("/deployments/:id", r.Admin.GetDeployment)
	admin.GET("/deployments/:id/events", r.Admin.DeploymentEvents)
	admin.GET("/deployments/:id/logs", r.Admin.DeploymentLogs)

	scoped := e.Group("/instances/:instance_id",
		middleware.Audit(r.Audit), r.Auth.JWTAuth(), r.Auth.RequireInstance("instance_id"))
	scoped.POST("/tokens/revoke", r.Tokens.RevokeSelf)
	scoped.POST("/organisations", r.Organisations.CreateOrganisation)
	scoped.GET("/organisations", r.Organisations.ListOrganisations)
	scoped.GET("/organisations/:organisation_id", r.Organisations.GetOrganisation)
	scoped.POST("/organisations/:organisation_id/passwords", r.Organisations.CreatePassword)
	scoped.GET("/organisations/:organisation_id/passwords", r.Organisations.ListPasswords)
	scoped.GET("/organisations/:organisation_id/passwords/:password_id", r.Organisations.GetPassword)
	scoped.PUT("/organisations/:organisation_id/passwords/:password_id", r.Organisations.UpdatePassword)
	scoped.DELETE("/organisations/:organisation_id/passwords/:password_id", r.Organisations.DeletePassword)
}
