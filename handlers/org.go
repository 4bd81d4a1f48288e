package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/envhub/envhub/authz"
	"github.com/envhub/envhub/db"
	"github.com/envhub/envhub/services"
)

// OrgHandler handles organization HTTP requests.
type OrgHandler struct {
	orgs  *services.OrgService
	users *services.UserService
	authz *authz.Service
}

func NewOrgHandler(orgs *services.OrgService, users *services.UserService, az *authz.Service) *OrgHandler {
	return &OrgHandler{orgs: orgs, users: users, authz: az}
}

// CreateOrg handles POST /orgs
func (h *OrgHandler) CreateOrg(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req db.CreateOrgRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	org, err := h.orgs.CreateOrg(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, org)
}

// ListOrgs handles GET /orgs
func (h *OrgHandler) ListOrgs(c *gin.Context) {
	userID := c.GetString("user_id")
	orgs, err := h.orgs.ListOrgsForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organizations": orgs})
}

// GetOrg handles GET /orgs/:org_id
func (h *OrgHandler) GetOrg(c *gin.Context) {
	org, err := h.orgs.GetOrg(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}

// GetOrgMembers handles GET /orgs/:org_id/members
func (h *OrgHandler) GetOrgMembers(c *gin.Context) {
	members, err := h.users.ListOrgMembers(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// RemoveOrgMember handles DELETE /orgs/:org_id/members/:user_id
func (h *OrgHandler) RemoveOrgMember(c *gin.Context) {
	if err := h.users.RemoveUserFromOrg(c.Request.Context(), c.Param("user_id"), c.Param("org_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "member removed"})
}

// GetMyPermissions handles GET /orgs/:org_id/permissions
func (h *OrgHandler) GetMyPermissions(c *gin.Context) {
	userID := c.GetString("user_id")
	snapshot, err := h.authz.GetUserOrgPermissions(c.Request.Context(), userID, c.Param("org_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// CheckPermission handles GET /orgs/:org_id/permissions/:key
func (h *OrgHandler) CheckPermission(c *gin.Context) {
	userID := c.GetString("user_id")
	relation, err := authz.RelationForPermission(c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	allowed, err := h.authz.Check(c.Request.Context(), userID, relation, authz.OrgRef(c.Param("org_id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}
