package services

import "errors"

var (
	ErrUnauthenticated         = errors.New("unauthenticated")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrMemorialNotFound        = errors.New("memorial not found")
	ErrCollaboratorNotFound    = errors.New("collaborator not found")
	ErrInvalidInput            = errors.New("invalid input")
	ErrInvalidPosition         = errors.New("position must be between 0 and 24")
	ErrEmptyCaption            = errors.New("caption is required")
	ErrInvalidImage            = errors.New("image is empty or not a supported image type")
	ErrInvalidRole             = errors.New("role must be admin, contributor or viewer")
	ErrPositionConflict        = errors.New("position already taken")
	ErrGridFull                = errors.New("all grid positions are taken")
	ErrGridIncomplete          = errors.New("grid is not full yet")
	ErrSummaryInProgress       = errors.New("summary generation already in progress")
	ErrTokenNotFound           = errors.New("invitation not found")
	ErrTokenExpired            = errors.New("invitation has expired")
	ErrTokenAlreadyUsed        = errors.New("invitation already used")
	ErrDuplicateInvitation     = errors.New("invitation already sent")
	ErrAlreadyCollaborator     = errors.New("already a collaborator on this memorial")
	ErrInvitationEmailMismatch = errors.New("invitation is for a different email address")
	ErrLastAdmin               = errors.New("a memorial must keep at least one admin")
	ErrGeneratorUnavailable    = errors.New("text generation unavailable")
	ErrStorageFailure          = errors.New("object storage failure")
)
