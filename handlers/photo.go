package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LovationAdmin/memorial-api/middleware"
	"github.com/LovationAdmin/memorial-api/models"
	"github.com/LovationAdmin/memorial-api/services"
)

// SubmitPhoto accepts a multipart upload for one grid position. The form
// carries position, caption, contributor_name, relationship and the image
// file under "image".
func (h *Handler) SubmitPhoto(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+1<<20)

	var form models.SubmitPhotoForm
	if err := c.ShouldBind(&form); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	image, err := h.readImage(c)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || errors.Is(err, errImageTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload too large"})
			return
		}
		respondError(c, err)
		return
	}

	result, err := h.Grid.SubmitPhoto(c.Request.Context(), c.Param("id"), models.SubmitPhotoInput{
		Position:        *form.Position,
		Image:           image,
		Caption:         form.Caption,
		ContributorName: form.ContributorName,
		Relationship:    form.Relationship,
	}, middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}

	body := gin.H{
		"photo":        result.Photo,
		"filled_count": result.FilledCount,
		"is_complete":  result.IsComplete,
	}
	if result.Summary != nil {
		body["summary"] = *result.Summary
	}
	if result.SummaryErr != nil {
		body["summary_error"] = result.SummaryErr.Error()
	}
	c.JSON(http.StatusCreated, body)
}

var errImageTooLarge = errors.New("image too large")

func (h *Handler) readImage(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("image file is required: %w", services.ErrInvalidImage)
	}
	if fh.Size > h.MaxUploadBytes {
		return nil, errImageTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.MaxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > h.MaxUploadBytes {
		return nil, errImageTooLarge
	}
	return data, nil
}

// GetPhotos returns the committed photos ordered by position.
func (h *Handler) GetPhotos(c *gin.Context) {
	photos, err := h.Grid.ListPhotos(c.Request.Context(), c.Param("id"), middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"photos": photos})
}

func (h *Handler) GetGrid(c *gin.Context) {
	state, err := h.Grid.GridState(c.Request.Context(), c.Param("id"), middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// RetrySummary re-runs the tribute generation of a full memorial.
func (h *Handler) RetrySummary(c *gin.Context) {
	memorial, err := h.Grid.RetrySummary(c.Request.Context(), c.Param("id"), middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, memorial)
}
