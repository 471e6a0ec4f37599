package models

import "time"

// Grid event types published to observers.
const (
	EventPhotoCommitted      = "photo_committed"
	EventMemorialCompleted   = "memorial_completed"
	EventSummaryFailed       = "summary_failed"
	EventCollaboratorChanged = "collaborator_changed"
	EventMemorialUpdated     = "memorial_updated"
	EventMemorialDeleted     = "memorial_deleted"
)

type GridEvent struct {
	Type       string    `json:"type"`
	MemorialID string    `json:"memorial_id"`
	Position   *int      `json:"position,omitempty"`
	User       string    `json:"user,omitempty"`
	At         time.Time `json:"at"`
}
