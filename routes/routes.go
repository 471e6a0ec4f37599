package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/LovationAdmin/memorial-api/handlers"
)

// SetupMemorialRoutes sets up protected memorial, grid and collaborator routes.
func SetupMemorialRoutes(rg *gin.RouterGroup, h *handlers.Handler) {
	rg.GET("/memorials", h.GetMemorials)
	rg.POST("/memorials", h.CreateMemorial)
	rg.GET("/memorials/:id", h.GetMemorial)
	rg.PUT("/memorials/:id", h.UpdateMemorial)
	rg.DELETE("/memorials/:id", h.DeleteMemorial)

	// Grid
	rg.GET("/memorials/:id/grid", h.GetGrid)
	rg.GET("/memorials/:id/photos", h.GetPhotos)
	rg.POST("/memorials/:id/photos", h.SubmitPhoto)
	rg.POST("/memorials/:id/summary/retry", h.RetrySummary)
}

// SetupCollaboratorRoutes sets up invitation and role management routes.
func SetupCollaboratorRoutes(rg *gin.RouterGroup, h *handlers.Handler) {
	rg.GET("/memorials/:id/collaborators", h.GetCollaborators)
	rg.POST("/memorials/:id/invitations", h.InviteCollaborator)
	rg.PUT("/memorials/:id/collaborators/:collaborator_id/role", h.SetCollaboratorRole)
	rg.DELETE("/memorials/:id/collaborators/:collaborator_id", h.RemoveCollaborator)
	rg.POST("/invitations/accept", h.AcceptInvitation)
}

// SetupRealtimeRoutes sets up the websocket feed.
func SetupRealtimeRoutes(rg *gin.RouterGroup, ws *handlers.WSHandler) {
	rg.GET("/ws/memorials/:id", ws.HandleWS)
}
