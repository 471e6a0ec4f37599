package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/LovationAdmin/memorial-api/models"
	"github.com/LovationAdmin/memorial-api/utils"
)

// MemorialService owns memorial creation, metadata and deletion.
type MemorialService struct {
	store         Store
	collaborators *CollaboratorService
	notifier      Notifier
	now           func() time.Time
}

func NewMemorialService(store Store, collaborators *CollaboratorService, notifier Notifier) *MemorialService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &MemorialService{
		store:         store,
		collaborators: collaborators,
		notifier:      notifier,
		now:           time.Now,
	}
}

func validateBanner(b models.Banner) error {
	if b.BirthYear != nil && b.DeathYear != nil && *b.BirthYear > *b.DeathYear {
		return fmt.Errorf("birth year after death year: %w", ErrInvalidInput)
	}
	return nil
}

// CreateMemorial writes the memorial and its creator's admin binding in one
// transaction.
func (s *MemorialService) CreateMemorial(ctx context.Context, req models.CreateMemorialRequest, identity models.Identity) (*models.Memorial, error) {
	if identity.UserID == "" {
		return nil, ErrUnauthenticated
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", ErrInvalidInput)
	}
	if err := validateBanner(req.Banner); err != nil {
		return nil, err
	}

	now := s.now()
	memorial := &models.Memorial{
		ID:            uuid.NewString(),
		Name:          name,
		CreatedBy:     identity.UserID,
		SummaryStatus: models.SummaryNone,
		Banner:        req.Banner,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	userID := identity.UserID
	admin := &models.Collaborator{
		ID:                 uuid.NewString(),
		MemorialID:         memorial.ID,
		Email:              strings.ToLower(identity.Email),
		UserID:             &userID,
		Role:               models.RoleAdmin,
		InvitationAccepted: true,
		InvitationStatus:   models.InvitationAccepted,
		InvitedBy:          identity.UserID,
		CreatedAt:          now,
	}

	if err := s.store.CreateMemorial(ctx, memorial, admin); err != nil {
		return nil, fmt.Errorf("create memorial: %w", err)
	}
	utils.LogMemorialAction("created", memorial.ID, identity.UserID)
	return memorial, nil
}

func (s *MemorialService) GetMemorial(ctx context.Context, memorialID string, identity models.Identity) (*models.Memorial, error) {
	if err := s.collaborators.Require(ctx, memorialID, identity, models.CapViewGrid); err != nil {
		return nil, err
	}
	return s.store.GetMemorial(ctx, memorialID)
}

// ListMemorials returns the memorials identity holds an accepted role on.
// Platform owners see every memorial.
func (s *MemorialService) ListMemorials(ctx context.Context, identity models.Identity) ([]models.Memorial, error) {
	if identity.UserID == "" {
		return nil, ErrUnauthenticated
	}
	var (
		memorials []models.Memorial
		err       error
	)
	if identity.PlatformOwner {
		memorials, err = s.store.ListAllMemorials(ctx)
	} else {
		memorials, err = s.store.ListMemorialsForUser(ctx, identity.UserID)
	}
	if err != nil {
		return nil, err
	}
	if memorials == nil {
		memorials = []models.Memorial{}
	}
	return memorials, nil
}

func (s *MemorialService) UpdateMemorial(ctx context.Context, memorialID string, req models.UpdateMemorialRequest, identity models.Identity) (*models.Memorial, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, fmt.Errorf("name cannot be empty: %w", ErrInvalidInput)
	}
	if req.Banner != nil {
		if err := validateBanner(*req.Banner); err != nil {
			return nil, err
		}
	}
	if err := s.collaborators.Require(ctx, memorialID, identity, models.CapManageMemorial); err != nil {
		return nil, err
	}

	memorial, err := s.store.GetMemorial(ctx, memorialID)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		memorial.Name = strings.TrimSpace(*req.Name)
	}
	if req.Banner != nil {
		memorial.Banner = *req.Banner
	}
	if err := s.store.UpdateMemorial(ctx, memorial); err != nil {
		return nil, err
	}

	updated, err := s.store.GetMemorial(ctx, memorialID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, models.EventMemorialUpdated, memorialID, identity.UserID)
	return updated, nil
}

// DeleteMemorial removes the memorial with its photos and collaborators.
func (s *MemorialService) DeleteMemorial(ctx context.Context, memorialID string, identity models.Identity) error {
	if err := s.collaborators.Require(ctx, memorialID, identity, models.CapManageMemorial); err != nil {
		return err
	}
	if err := s.store.DeleteMemorial(ctx, memorialID); err != nil {
		return err
	}
	utils.LogMemorialAction("deleted", memorialID, identity.UserID)
	s.notify(ctx, models.EventMemorialDeleted, memorialID, identity.UserID)
	return nil
}

func (s *MemorialService) notify(ctx context.Context, eventType, memorialID, userID string) {
	event := models.GridEvent{Type: eventType, MemorialID: memorialID, User: userID, At: s.now()}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), event); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("notify observer")
	}
}
