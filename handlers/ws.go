package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"

	"github.com/LovationAdmin/memorial-api/middleware"
	"github.com/LovationAdmin/memorial-api/models"
	"github.com/LovationAdmin/memorial-api/services"
	"github.com/LovationAdmin/memorial-api/utils"
)

const memorialKey = "memorial_id"

// WSHandler pushes grid events to browsers watching a memorial. It is the
// websocket observer of the grid.
type WSHandler struct {
	M *melody.Melody
	// Collaborators authorizes subscriptions. It is set after construction
	// since the registry itself notifies this handler.
	Collaborators *services.CollaboratorService
}

func NewWSHandler() *WSHandler {
	m := melody.New()

	m.Config.MaxMessageSize = 1024

	// Keep-alive for hosted proxies that drop idle connections.
	m.Config.PingPeriod = 30 * time.Second
	m.Config.PongWait = 60 * time.Second

	m.HandleConnect(func(s *melody.Session) {
		memorialID, _ := s.Get(memorialKey)
		userID, _ := s.Get("user_id")
		utils.LogWebSocket("connected", toString(memorialID), toString(userID))
	})

	m.HandleDisconnect(func(s *melody.Session) {
		memorialID, _ := s.Get(memorialKey)
		userID, _ := s.Get("user_id")
		utils.LogWebSocket("disconnected", toString(memorialID), toString(userID))
	})

	m.HandleError(func(s *melody.Session, err error) {
		log.Debug().Err(err).Msg("[WS] session error")
	})

	return &WSHandler{M: m}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

// HandleWS upgrades the request once the caller is allowed to view the grid.
func (h *WSHandler) HandleWS(c *gin.Context) {
	memorialID := c.Param("id")
	identity := middleware.GetIdentity(c)

	if err := h.Collaborators.Require(c.Request.Context(), memorialID, identity, models.CapViewGrid); err != nil {
		respondError(c, err)
		return
	}

	err := h.M.HandleRequestWithKeys(c.Writer, c.Request, map[string]any{
		memorialKey: memorialID,
		"user_id":   identity.UserID,
	})
	if err != nil {
		log.Warn().Err(err).Msg("[WS] failed to upgrade websocket")
		if !c.Writer.Written() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "websocket upgrade failed"})
		}
	}
}

// Notify broadcasts event to every session watching its memorial.
func (h *WSHandler) Notify(_ context.Context, event models.GridEvent) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return h.M.BroadcastFilter(msg, func(s *melody.Session) bool {
		id, exists := s.Get(memorialKey)
		return exists && id == event.MemorialID
	})
}

// Close disconnects every session.
func (h *WSHandler) Close() error {
	return h.M.Close()
}
