package handler

import (
	"net/http"

	"github.com/jamesmcfarland/keyforge/internal/service"
	"github.com/jamesmcfarland/keyforge/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// OrganisationHandler serves organisations and their passwords.
type OrganisationHandler struct {
	orgs      *service.OrganisationService
	passwords *service.PasswordService
}

// NewOrganisationHandler returns an OrganisationHandler.
func NewOrganisationHandler(orgs *service.OrganisationService, passwords *service.PasswordService) *OrganisationHandler {
	return &OrganisationHandler{orgs: orgs, passwords: passwords}
}

// CreateOrganisationRequest is the body of an organisation create request.
type CreateOrganisationRequest struct {
	Name string `json:"name"`
}

// CreateOrganisation creates an organisation in a ready instance.
func (h *OrganisationHandler) CreateOrganisation(c echo.Context) error {
	log := logger.FromEcho(c)
	instanceID := c.Param("instance_id")

	var req CreateOrganisationRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Invalid request data", zap.Error(err))
		return badRequest("Invalid request data")
	}

	org, err := h.orgs.Create(c.Request().Context(), instanceID, req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"organisation_id": org.ID,
		"instance_id":     org.InstanceID,
		"vaultwd_org_id":  org.BackendOrgID,
		"status":          org.Status,
	})
}

// ListOrganisations lists the organisations of an instance.
func (h *OrganisationHandler) ListOrganisations(c echo.Context) error {
	orgs, err := h.orgs.List(c.Request().Context(), c.Param("instance_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"organisations": orgs})
}

// GetOrganisation returns one organisation.
func (h *OrganisationHandler) GetOrganisation(c echo.Context) error {
	org, err := h.orgs.Get(c.Request().Context(), c.Param("instance_id"), c.Param("organisation_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, org)
}

// CreatePassword stores a password in an organisation.
func (h *OrganisationHandler) CreatePassword(c echo.Context) error {
	var req service.PasswordInput
	if err := c.Bind(&req); err != nil {
		return badRequest("Invalid request data")
	}
	pwd, err := h.passwords.Create(c.Request().Context(), c.Param("instance_id"), c.Param("organisation_id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"password_id":     pwd.ID,
		"organisation_id": pwd.OrganisationID,
		"name":            pwd.Name,
		"created_at":      pwd.CreatedAt,
	})
}

// ListPasswords lists the passwords of an organisation.
func (h *OrganisationHandler) ListPasswords(c echo.Context) error {
	orgID := c.Param("organisation_id")
	list, err := h.passwords.List(c.Request().Context(), c.Param("instance_id"), orgID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"organisation_id": orgID, "passwords": list})
}

// GetPassword returns a password with its secret fields.
func (h *OrganisationHandler) GetPassword(c echo.Context) error {
	pwd, err := h.passwords.Get(c.Request().Context(), c.Param("instance_id"), c.Param("organisation_id"), c.Param("password_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pwd)
}

// UpdatePassword applies a partial update to a password.
func (h *OrganisationHandler) UpdatePassword(c echo.Context) error {
	var req service.PasswordUpdate
	if err := c.Bind(&req); err != nil {
		return badRequest("Invalid request data")
	}
	pwd, err := h.passwords.Update(c.Request().Context(), c.Param("instance_id"), c.Param("organisation_id"), c.Param("password_id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pwd)
}

// DeletePassword removes a password.
func (h *OrganisationHandler) DeletePassword(c echo.Context) error {
	err := h.passwords.Delete(c.Request().Context(), c.Param("instance_id"), c.Param("organisation_id"), c.Param("password_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password deleted successfully"})
}
