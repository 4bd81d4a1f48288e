package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/envhub/envhub/db"
	"github.com/envhub/envhub/services"
)

// AppHandler handles app and environment-type HTTP requests.
type AppHandler struct {
	apps     *services.AppService
	envTypes *services.EnvTypeService
}

func NewAppHandler(apps *services.AppService, envTypes *services.EnvTypeService) *AppHandler {
	return &AppHandler{apps: apps, envTypes: envTypes}
}

// CreateApp handles POST /orgs/:org_id/apps. Default environment tiers are
// created after the app commits; a tier failure leaves the app standing and
// is reported, not rolled into the app's outcome.
func (h *AppHandler) CreateApp(c *gin.Context) {
	orgID := c.Param("org_id")
	userID := c.GetString("user_id")

	var req db.CreateAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	app, err := h.apps.CreateApp(c.Request.Context(), orgID, userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	envTypes, err := h.envTypes.CreateDefaultEnvTypes(c.Request.Context(), app.ID, orgID)
	if err != nil {
		log.Printf("app %s created but default env types failed: %v", app.ID, err)
		c.JSON(http.StatusCreated, gin.H{"app": app, "env_types_error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"app": app, "env_types": envTypes})
}

// ListApps handles GET /orgs/:org_id/apps
func (h *AppHandler) ListApps(c *gin.Context) {
	apps, err := h.apps.GetAppsByOrg(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"apps": apps})
}

// ListAccessibleApps handles GET /apps/accessible
func (h *AppHandler) ListAccessibleApps(c *gin.Context) {
	apps, err := h.apps.ListAccessibleApps(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"apps": apps})
}

// GetApp handles GET /orgs/:org_id/apps/:app_id
func (h *AppHandler) GetApp(c *gin.Context) {
	app, err := h.apps.GetApp(c.Request.Context(), c.Param("app_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// DeleteApp handles DELETE /orgs/:org_id/apps/:app_id
func (h *AppHandler) DeleteApp(c *gin.Context) {
	if err := h.apps.DeleteApp(c.Request.Context(), c.Param("app_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "app deleted"})
}

// GrantAppAccess handles POST /orgs/:org_id/apps/:app_id/access
func (h *AppHandler) GrantAppAccess(c *gin.Context) {
	var req db.GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.apps.GrantAccess(c.Request.Context(), c.Param("app_id"), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "access granted"})
}

// RevokeAppAccess handles DELETE /orgs/:org_id/apps/:app_id/access
func (h *AppHandler) RevokeAppAccess(c *gin.Context) {
	var req db.GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.apps.RevokeAccess(c.Request.Context(), c.Param("app_id"), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "access revoked"})
}

// CreateEnvType handles POST /orgs/:org_id/apps/:app_id/env-types
func (h *AppHandler) CreateEnvType(c *gin.Context) {
	var req db.CreateEnvTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	envType, err := h.envTypes.CreateEnvType(c.Request.Context(), c.Param("app_id"), c.Param("org_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, envType)
}

// ListEnvTypes handles GET /orgs/:org_id/apps/:app_id/env-types
func (h *AppHandler) ListEnvTypes(c *gin.Context) {
	envTypes, err := h.envTypes.GetEnvTypesByApp(c.Request.Context(), c.Param("app_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"env_types": envTypes})
}

// DeleteEnvType handles DELETE /orgs/:org_id/env-types/:env_type_id
func (h *AppHandler) DeleteEnvType(c *gin.Context) {
	if err := h.envTypes.DeleteEnvType(c.Request.Context(), c.Param("env_type_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "env type deleted"})
}

// GrantEnvTypeAccess handles POST /orgs/:org_id/env-types/:env_type_id/access
func (h *AppHandler) GrantEnvTypeAccess(c *gin.Context) {
	var req db.GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.envTypes.GrantAccess(c.Request.Context(), c.Param("env_type_id"), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "access granted"})
}

// RevokeEnvTypeAccess handles DELETE /orgs/:org_id/env-types/:env_type_id/access
func (h *AppHandler) RevokeEnvTypeAccess(c *gin.Context) {
	var req db.GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.envTypes.RevokeAccess(c.Request.Context(), c.Param("env_type_id"), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "access revoked"})
}
