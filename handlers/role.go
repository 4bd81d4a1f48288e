package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/envhub/envhub/db"
	"github.com/envhub/envhub/services"
)

// RoleHandler handles role template HTTP requests.
type RoleHandler struct {
	roles *services.RoleService
}

func NewRoleHandler(roles *services.RoleService) *RoleHandler {
	return &RoleHandler{roles: roles}
}

// CreateRole handles POST /orgs/:org_id/roles
func (h *RoleHandler) CreateRole(c *gin.Context) {
	var req db.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role, err := h.roles.CreateRole(c.Request.Context(), c.Param("org_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

// ListRoles handles GET /orgs/:org_id/roles
func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := h.roles.ListRolesByOrg(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

// GetRole handles GET /orgs/:org_id/roles/:role_id
func (h *RoleHandler) GetRole(c *gin.Context) {
	role, err := h.roles.GetRole(c.Request.Context(), c.Param("role_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

// UpdateRole handles PATCH /orgs/:org_id/roles/:role_id
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	var req db.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role, err := h.roles.UpdateRole(c.Request.Context(), c.Param("role_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

// DeleteRole handles DELETE /orgs/:org_id/roles/:role_id
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	if err := h.roles.DeleteRole(c.Request.Context(), c.Param("role_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "role deleted"})
}

// AssignRole handles PUT /orgs/:org_id/members/:user_id/role
func (h *RoleHandler) AssignRole(c *gin.Context) {
	var req db.AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.roles.AssignRole(c.Request.Context(), c.Param("org_id"), c.Param("user_id"), req.RoleID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "role assigned"})
}
