package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/envhub/envhub/db"
	"github.com/envhub/envhub/services"
)

// TeamHandler handles team HTTP requests.
type TeamHandler struct {
	teams *services.TeamService
}

func NewTeamHandler(teams *services.TeamService) *TeamHandler {
	return &TeamHandler{teams: teams}
}

// CreateTeam handles POST /orgs/:org_id/teams
func (h *TeamHandler) CreateTeam(c *gin.Context) {
	var req db.CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	team, err := h.teams.CreateTeam(c.Request.Context(), c.Param("org_id"), c.GetString("user_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, team)
}

// ListTeams handles GET /orgs/:org_id/teams
func (h *TeamHandler) ListTeams(c *gin.Context) {
	teams, err := h.teams.GetTeamsByOrg(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"teams": teams})
}

// DeleteTeam handles DELETE /orgs/:org_id/teams/:team_id
func (h *TeamHandler) DeleteTeam(c *gin.Context) {
	if err := h.teams.DeleteTeam(c.Request.Context(), c.Param("team_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "team deleted"})
}

// ListMembers handles GET /orgs/:org_id/teams/:team_id/members
func (h *TeamHandler) ListMembers(c *gin.Context) {
	members, err := h.teams.ListMembers(c.Request.Context(), c.Param("team_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// AddMember handles POST /orgs/:org_id/teams/:team_id/members
func (h *TeamHandler) AddMember(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.teams.AddMember(c.Request.Context(), c.Param("team_id"), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

// RemoveMember handles DELETE /orgs/:org_id/teams/:team_id/members/:user_id
func (h *TeamHandler) RemoveMember(c *gin.Context) {
	if err := h.teams.RemoveMember(c.Request.Context(), c.Param("team_id"), c.Param("user_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "member removed"})
}
