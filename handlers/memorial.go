package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LovationAdmin/memorial-api/middleware"
	"github.com/LovationAdmin/memorial-api/models"
)

// CreateMemorial creates a memorial with the caller as its first admin.
func (h *Handler) CreateMemorial(c *gin.Context) {
	var req models.CreateMemorialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	memorial, err := h.Memorials.CreateMemorial(c.Request.Context(), req, middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, memorial)
}

// GetMemorials returns the memorials the caller collaborates on.
func (h *Handler) GetMemorials(c *gin.Context) {
	memorials, err := h.Memorials.ListMemorials(c.Request.Context(), middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memorials": memorials})
}

func (h *Handler) GetMemorial(c *gin.Context) {
	memorial, err := h.Memorials.GetMemorial(c.Request.Context(), c.Param("id"), middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, memorial)
}

func (h *Handler) UpdateMemorial(c *gin.Context) {
	var req models.UpdateMemorialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	memorial, err := h.Memorials.UpdateMemorial(c.Request.Context(), c.Param("id"), req, middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, memorial)
}

func (h *Handler) DeleteMemorial(c *gin.Context) {
	if err := h.Memorials.DeleteMemorial(c.Request.Context(), c.Param("id"), middleware.GetIdentity(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Memorial deleted"})
}
