package services

import (
	"context"
	"time"

	"github.com/LovationAdmin/memorial-api/models"
)

// Store is the relational store behind the memorial grid. Implementations
// must enforce uniqueness of (memorial, position) claims themselves; callers
// never check-then-insert.
type Store interface {
	CreateMemorial(ctx context.Context, m *models.Memorial, admin *models.Collaborator) error
	GetMemorial(ctx context.Context, id string) (*models.Memorial, error)
	ListMemorialsForUser(ctx context.Context, userID string) ([]models.Memorial, error)
	ListAllMemorials(ctx context.Context) ([]models.Memorial, error)
	UpdateMemorial(ctx context.Context, m *models.Memorial) error
	DeleteMemorial(ctx context.Context, id string) error

	// CountPhotos counts committed photos only.
	CountPhotos(ctx context.Context, memorialID string) (int, error)
	// ClaimPosition reserves a position. Returns ErrPositionConflict when the
	// position is already claimed or committed.
	ClaimPosition(ctx context.Context, memorialID string, position int, photoID, userID string) error
	ReleaseClaim(ctx context.Context, photoID string) error
	// CommitPhoto turns a claim into a visible photo and, in the same
	// transaction, reports the committed count and whether the caller won the
	// right to run the completion summary.
	CommitPhoto(ctx context.Context, slot *models.PhotoSlot) (filled int, ownsCompletion bool, err error)
	ListPhotos(ctx context.Context, memorialID string) ([]models.PhotoSlot, error)
	ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error)

	// StartSummary marks a full, incomplete memorial as summarising. Returns
	// false without error when the memorial is already complete.
	StartSummary(ctx context.Context, memorialID string, staleBefore time.Time) (bool, error)
	CompleteMemorial(ctx context.Context, memorialID, summary string) (*models.Memorial, error)
	FailSummary(ctx context.Context, memorialID, reason string) error
	ListSummaryCandidates(ctx context.Context, staleBefore time.Time) ([]string, error)

	// FindCollaboratorByUser returns nil, nil when the user has no binding.
	FindCollaboratorByUser(ctx context.Context, memorialID, userID string) (*models.Collaborator, error)
	ListCollaborators(ctx context.Context, memorialID string) ([]models.Collaborator, error)
	FindInvitationByTokenHash(ctx context.Context, tokenHash string) (*models.Collaborator, error)
	ExpireInvitations(ctx context.Context, now time.Time) (int64, error)

	// WithinMemorial runs fn with collaborator mutations for one memorial
	// serialized. Changes made through tx are applied only if fn returns nil.
	WithinMemorial(ctx context.Context, memorialID string, fn func(tx CollaboratorTx) error) error
}

// CollaboratorTx is the view of one memorial's collaborators inside WithinMemorial.
type CollaboratorTx interface {
	Collaborators(ctx context.Context) ([]models.Collaborator, error)
	Insert(ctx context.Context, c *models.Collaborator) error
	Update(ctx context.Context, c *models.Collaborator) error
	Delete(ctx context.Context, collaboratorID string) error
}
