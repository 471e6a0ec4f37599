package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LovationAdmin/memorial-api/middleware"
	"github.com/LovationAdmin/memorial-api/models"
)

// InviteCollaborator sends an invitation. The token is only returned to the
// inviting admin in this response.
func (h *Handler) InviteCollaborator(c *gin.Context) {
	var req models.InvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	invitation, err := h.Collaborators.InviteCollaborator(c.Request.Context(), c.Param("id"), req.Email, models.Role(req.Role), middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invitation)
}

func (h *Handler) AcceptInvitation(c *gin.Context) {
	var req models.AcceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	collaborator, err := h.Collaborators.AcceptInvitation(c.Request.Context(), req.Token, middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collaborator)
}

func (h *Handler) GetCollaborators(c *gin.Context) {
	collaborators, err := h.Collaborators.ListCollaborators(c.Request.Context(), c.Param("id"), middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collaborators": collaborators})
}

func (h *Handler) SetCollaboratorRole(c *gin.Context) {
	var req models.SetRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	collaborator, err := h.Collaborators.SetRole(c.Request.Context(), c.Param("id"), c.Param("collaborator_id"), models.Role(req.Role), middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collaborator)
}

func (h *Handler) RemoveCollaborator(c *gin.Context) {
	err := h.Collaborators.RemoveCollaborator(c.Request.Context(), c.Param("id"), c.Param("collaborator_id"), middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Collaborator removed"})
}
