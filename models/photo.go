package models

import "time"

type PhotoSlot struct {
	ID              string    `json:"id"`
	MemorialID      string    `json:"memorial_id"`
	Position        int       `json:"position"`
	ImageURL        string    `json:"image_url"`
	Caption         string    `json:"caption"`
	ContributorName string    `json:"contributor_name"`
	Relationship    string    `json:"relationship"`
	Reflection      *string   `json:"reflection,omitempty"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// MemoryEntry is the (caption, reflection) pair handed to the summary generator.
type MemoryEntry struct {
	Position        int
	Caption         string
	Reflection      string
	ContributorName string
	Relationship    string
}

// SubmitPhotoInput carries one upload for a grid position.
type SubmitPhotoInput struct {
	Position        int
	Image           []byte
	Caption         string
	ContributorName string
	Relationship    string
}

// SubmitResult is returned for every committed photo. SummaryErr is set when
// this submission filled the grid but the tribute summary could not be
// generated; the photo itself is committed either way.
type SubmitResult struct {
	Photo       PhotoSlot `json:"photo"`
	FilledCount int       `json:"filled_count"`
	IsComplete  bool      `json:"is_complete"`
	Summary     *string   `json:"summary,omitempty"`
	SummaryErr  error     `json:"-"`
}

// SubmitPhotoForm is the multipart form accepted by the upload endpoint.
type SubmitPhotoForm struct {
	Position        *int   `form:"position" binding:"required"`
	Caption         string `form:"caption" binding:"required"`
	ContributorName string `form:"contributor_name"`
	Relationship    string `form:"relationship"`
}
