package handlers

import (
	"github.com/LovationAdmin/memorial-api/services"
)

// Handler serves the memorial HTTP API.
type Handler struct {
	Memorials      *services.MemorialService
	Grid           *services.GridService
	Collaborators  *services.CollaboratorService
	MaxUploadBytes int64
}

func NewHandler(memorials *services.MemorialService, grid *services.GridService, collaborators *services.CollaboratorService, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		Memorials:      memorials,
		Grid:           grid,
		Collaborators:  collaborators,
		MaxUploadBytes: maxUploadBytes,
	}
}
