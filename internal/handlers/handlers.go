package handlers

import (
	"errors"
	"net/http"

	"domainpilot/internal/database"
	"domainpilot/internal/models"
	"domainpilot/internal/services"

	"github.com/labstack/echo/v4"
)

type DomainHandler struct {
	orch *services.Orchestrator
}

func RegisterRoutes(e *echo.Group, orch *services.Orchestrator) {
	h := &DomainHandler{orch: orch}

	e.POST("/domains", h.SetupDomain)
	e.GET("/domains", h.ListDomains)
	e.GET("/domains/:domain", h.GetDomain)
	e.POST("/domains/:domain/verify", h.VerifyDNS)
	e.POST("/domains/:domain/certificate", h.ProvisionSSL)
	e.POST("/domains/:domain/deploy", h.DeployApplication)
	e.POST("/domains/:domain/restart", h.RestartApplication)
	e.POST("/domains/:domain/rollback", h.RollbackDeployment)
	e.DELETE("/domains/:domain", h.DeleteDomain)
	e.GET("/domains/:domain/logs", h.GetLogs)
	e.GET("/health/:server", h.GetHealth)
}

func (h *DomainHandler) SetupDomain(c echo.Context) error {
	var req services.SetupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	id, err := h.orch.SetupDomain(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]uint{"id": id})
}

func (h *DomainHandler) ListDomains(c echo.Context) error {
	filter := database.ListFilter{
		Status:      models.DomainStatus(c.QueryParam("status")),
		Application: models.ApplicationTarget(c.QueryParam("application")),
	}
	configs, err := h.orch.ListDomains(filter)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, configs)
}

func (h *DomainHandler) GetDomain(c echo.Context) error {
	cfg, err := h.orch.GetDomain(c.Param("domain"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *DomainHandler) VerifyDNS(c echo.Context) error {
	verified, err := h.orch.VerifyDNS(c.Request().Context(), c.Param("domain"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"verified": verified})
}

func (h *DomainHandler) ProvisionSSL(c echo.Context) error {
	dep, err := bindDeployment(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	cert, err := h.orch.ProvisionSSL(c.Request().Context(), c.Param("domain"), dep)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, cert)
}

func (h *DomainHandler) DeployApplication(c echo.Context) error {
	cfg, err := h.orch.GetDomain(c.Param("domain"))
	if err != nil {
		return errorResponse(c, err)
	}
	dep, err := bindDeployment(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err := h.orch.DeployApplication(c.Request().Context(), cfg.ID, dep); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": string(models.StatusActive)})
}

func (h *DomainHandler) RestartApplication(c echo.Context) error {
	if err := h.orch.RestartApplication(c.Request().Context(), c.Param("domain")); err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *DomainHandler) RollbackDeployment(c echo.Context) error {
	if err := h.orch.RollbackDeployment(c.Request().Context(), c.Param("domain")); err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *DomainHandler) DeleteDomain(c echo.Context) error {
	if err := h.orch.DeleteDomain(c.Request().Context(), c.Param("domain")); err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *DomainHandler) GetLogs(c echo.Context) error {
	cfg, err := h.orch.GetDomain(c.Param("domain"))
	if err != nil {
		return errorResponse(c, err)
	}
	logs, err := h.orch.GetLogs(cfg.ID, models.LogAction(c.QueryParam("action")))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, logs)
}

func (h *DomainHandler) GetHealth(c echo.Context) error {
	report, err := h.orch.GetHealth(c.Request().Context(), c.Param("server"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// bindDeployment reads an optional deployment-config override from the body.
func bindDeployment(c echo.Context) (*models.DeploymentConfig, error) {
	if c.Request().ContentLength == 0 {
		return nil, nil
	}
	var dep models.DeploymentConfig
	if err := c.Bind(&dep); err != nil {
		return nil, err
	}
	return &dep, nil
}

func errorResponse(c echo.Context, err error) error {
	var valErr *services.ValidationError
	switch {
	case errors.As(err, &valErr):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": valErr.Error()})
	case errors.Is(err, services.ErrDomainNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrProtectedDomain):
		return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrNotReady):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrAlreadyInProgress):
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
