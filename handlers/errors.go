package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/LovationAdmin/memorial-api/services"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{services.ErrUnauthenticated, http.StatusUnauthorized},
	{services.ErrPermissionDenied, http.StatusForbidden},
	{services.ErrInvitationEmailMismatch, http.StatusForbidden},
	{services.ErrMemorialNotFound, http.StatusNotFound},
	{services.ErrCollaboratorNotFound, http.StatusNotFound},
	{services.ErrTokenNotFound, http.StatusNotFound},
	{services.ErrTokenExpired, http.StatusGone},
	{services.ErrInvalidInput, http.StatusBadRequest},
	{services.ErrInvalidPosition, http.StatusBadRequest},
	{services.ErrEmptyCaption, http.StatusBadRequest},
	{services.ErrInvalidImage, http.StatusBadRequest},
	{services.ErrInvalidRole, http.StatusBadRequest},
	{services.ErrPositionConflict, http.StatusConflict},
	{services.ErrGridFull, http.StatusConflict},
	{services.ErrGridIncomplete, http.StatusConflict},
	{services.ErrSummaryInProgress, http.StatusConflict},
	{services.ErrTokenAlreadyUsed, http.StatusConflict},
	{services.ErrDuplicateInvitation, http.StatusConflict},
	{services.ErrAlreadyCollaborator, http.StatusConflict},
	{services.ErrLastAdmin, http.StatusConflict},
	{services.ErrStorageFailure, http.StatusBadGateway},
	{services.ErrGeneratorUnavailable, http.StatusServiceUnavailable},
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.AbortWithStatusJSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
