package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/LovationAdmin/memorial-api/models"
	"github.com/LovationAdmin/memorial-api/utils"
)

// DefaultInvitationTTL is how long an invitation token stays valid.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// CollaboratorService owns role bindings and the invitation lifecycle, and
// answers capability checks for the rest of the service.
type CollaboratorService struct {
	store         Store
	mailer        Mailer
	notifier      Notifier
	invitationTTL time.Duration
	metrics       *Metrics
	now           func() time.Time
}

func NewCollaboratorService(store Store, mailer Mailer, notifier Notifier, invitationTTL time.Duration) *CollaboratorService {
	if mailer == nil {
		mailer = LogMailer{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if invitationTTL <= 0 {
		invitationTTL = DefaultInvitationTTL
	}
	return &CollaboratorService{
		store:         store,
		mailer:        mailer,
		notifier:      notifier,
		invitationTTL: invitationTTL,
		metrics:       NewMetrics(),
		now:           time.Now,
	}
}

// CheckCapability reports whether identity may perform capability on the
// memorial. Only accepted bindings confer capabilities; platform owners hold
// every capability.
func (s *CollaboratorService) CheckCapability(ctx context.Context, memorialID string, identity models.Identity, capability models.Capability) (bool, error) {
	if identity.UserID == "" {
		return false, ErrUnauthenticated
	}
	if identity.PlatformOwner {
		if _, err := s.store.GetMemorial(ctx, memorialID); err != nil {
			return false, err
		}
		return true, nil
	}

	c, err := s.store.FindCollaboratorByUser(ctx, memorialID, identity.UserID)
	if err != nil {
		return false, err
	}
	if c == nil {
		if _, err := s.store.GetMemorial(ctx, memorialID); err != nil {
			return false, err
		}
		return false, nil
	}
	return c.InvitationAccepted && c.Role.Grants(capability), nil
}

// Require is CheckCapability returning ErrPermissionDenied on refusal.
func (s *CollaboratorService) Require(ctx context.Context, memorialID string, identity models.Identity, capability models.Capability) error {
	ok, err := s.CheckCapability(ctx, memorialID, identity, capability)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s on memorial %s: %w", capability, memorialID, ErrPermissionDenied)
	}
	return nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("email %q: %w", raw, ErrInvalidInput)
	}
	return strings.ToLower(addr.Address), nil
}

// InviteCollaborator creates a pending binding and mails its token. The raw
// token is returned once and never stored.
func (s *CollaboratorService) InviteCollaborator(ctx context.Context, memorialID, email string, role models.Role, actor models.Identity) (*models.PendingInvitation, error) {
	role, ok := models.ParseRole(string(role))
	if !ok {
		return nil, ErrInvalidRole
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := s.Require(ctx, memorialID, actor, models.CapInvite); err != nil {
		return nil, err
	}
	memorial, err := s.store.GetMemorial(ctx, memorialID)
	if err != nil {
		return nil, err
	}

	token, hash, err := utils.NewInvitationToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	expiresAt := now.Add(s.invitationTTL)
	invitation := models.Collaborator{
		ID:               uuid.NewString(),
		MemorialID:       memorialID,
		Email:            email,
		Role:             role,
		InvitationStatus: models.InvitationPending,
		TokenHash:        hash,
		TokenExpiresAt:   &expiresAt,
		InvitedBy:        actor.UserID,
		CreatedAt:        now,
	}

	err = s.store.WithinMemorial(ctx, memorialID, func(tx CollaboratorTx) error {
		rows, err := tx.Collaborators(ctx)
		if err != nil {
			return err
		}
		for i := range rows {
			c := rows[i]
			if !strings.EqualFold(c.Email, email) {
				continue
			}
			switch {
			case c.InvitationAccepted:
				return ErrAlreadyCollaborator
			case c.Unconsumed(now):
				return ErrDuplicateInvitation
			case c.InvitationStatus == models.InvitationPending:
				// Lapsed but not yet swept; retire it so the new one can take its place.
				c.InvitationStatus = models.InvitationExpired
				if err := tx.Update(ctx, &c); err != nil {
					return err
				}
			}
		}
		return tx.Insert(ctx, &invitation)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.InvitationsTotal.WithLabelValues("sent").Inc()
	utils.LogInvitationAction("invited", memorialID, email)
	s.sendInvitation(ctx, invitation, memorial, actor, token)
	s.notify(ctx, memorialID, actor.UserID)

	return &models.PendingInvitation{
		Collaborator: invitation,
		Token:        token,
		ExpiresAt:    expiresAt,
	}, nil
}

// sendInvitation mails the link without holding up the request. Delivery
// failures are logged only.
func (s *CollaboratorService) sendInvitation(ctx context.Context, c models.Collaborator, memorial *models.Memorial, actor models.Identity, token string) {
	inviter := actor.Name
	if inviter == "" {
		inviter = actor.Email
	}
	email := InvitationEmail{
		To:           c.Email,
		InviterName:  inviter,
		MemorialName: memorial.Name,
		Role:         string(c.Role),
		Token:        token,
		ExpiresAt:    *c.TokenExpiresAt,
	}
	sendCtx := context.WithoutCancel(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(sendCtx, 30*time.Second)
		defer cancel()
		if err := s.mailer.SendInvitation(sendCtx, email); err != nil {
			log.Warn().Err(err).
				Str("memorial", utils.MaskID(c.MemorialID)).
				Str("to", utils.MaskEmail(c.Email)).
				Msg("[Email] invitation delivery failed")
		}
	}()
}

// AcceptInvitation binds identity to the invited role. The token is consumed
// in the same transaction.
func (s *CollaboratorService) AcceptInvitation(ctx context.Context, token string, identity models.Identity) (*models.Collaborator, error) {
	if identity.UserID == "" {
		return nil, ErrUnauthenticated
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenNotFound
	}

	invitation, err := s.store.FindInvitationByTokenHash(ctx, utils.HashToken(token))
	if err != nil {
		return nil, err
	}

	var accepted models.Collaborator
	expired := false
	err = s.store.WithinMemorial(ctx, invitation.MemorialID, func(tx CollaboratorTx) error {
		rows, err := tx.Collaborators(ctx)
		if err != nil {
			return err
		}
		var row *models.Collaborator
		for i := range rows {
			if rows[i].ID == invitation.ID {
				row = &rows[i]
			}
		}
		if row == nil {
			return ErrTokenNotFound
		}

		now := s.now()
		if row.InvitationAccepted || row.TokenUsedAt != nil {
			return ErrTokenAlreadyUsed
		}
		if row.InvitationStatus == models.InvitationExpired || row.TokenExpiresAt == nil || !now.Before(*row.TokenExpiresAt) {
			expired = true
			if row.InvitationStatus == models.InvitationExpired {
				return nil
			}
			row.InvitationStatus = models.InvitationExpired
			return tx.Update(ctx, row)
		}
		if !identity.PlatformOwner && !strings.EqualFold(row.Email, identity.Email) {
			return ErrInvitationEmailMismatch
		}
		for _, other := range rows {
			if other.ID != row.ID && other.UserID != nil && *other.UserID == identity.UserID {
				return ErrAlreadyCollaborator
			}
		}

		userID := identity.UserID
		row.UserID = &userID
		row.InvitationAccepted = true
		row.InvitationStatus = models.InvitationAccepted
		row.TokenUsedAt = &now
		if err := tx.Update(ctx, row); err != nil {
			return err
		}
		accepted = *row
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		s.metrics.InvitationsTotal.WithLabelValues("expired").Inc()
		return nil, ErrTokenExpired
	}

	s.metrics.InvitationsTotal.WithLabelValues("accepted").Inc()
	utils.LogMemorialAction("invitation accepted", accepted.MemorialID, identity.UserID)
	s.notify(ctx, accepted.MemorialID, identity.UserID)
	return &accepted, nil
}

func countAcceptedAdmins(rows []models.Collaborator) int {
	n := 0
	for _, c := range rows {
		if c.IsAcceptedAdmin() {
			n++
		}
	}
	return n
}

func findCollaborator(rows []models.Collaborator, id string) *models.Collaborator {
	for i := range rows {
		if rows[i].ID == id {
			return &rows[i]
		}
	}
	return nil
}

// SetRole changes a binding's role. Demoting the last accepted admin fails
// with ErrLastAdmin.
func (s *CollaboratorService) SetRole(ctx context.Context, memorialID, collaboratorID string, role models.Role, actor models.Identity) (*models.Collaborator, error) {
	role, ok := models.ParseRole(string(role))
	if !ok {
		return nil, ErrInvalidRole
	}
	if err := s.Require(ctx, memorialID, actor, models.CapSetRole); err != nil {
		return nil, err
	}

	var updated models.Collaborator
	err := s.store.WithinMemorial(ctx, memorialID, func(tx CollaboratorTx) error {
		rows, err := tx.Collaborators(ctx)
		if err != nil {
			return err
		}
		c := findCollaborator(rows, collaboratorID)
		if c == nil {
			return ErrCollaboratorNotFound
		}
		if c.IsAcceptedAdmin() && role != models.RoleAdmin && countAcceptedAdmins(rows) <= 1 {
			return ErrLastAdmin
		}
		c.Role = role
		if err := tx.Update(ctx, c); err != nil {
			return err
		}
		updated = *c
		return nil
	})
	if err != nil {
		return nil, err
	}

	utils.LogMemorialAction("role changed to "+string(role), memorialID, actor.UserID)
	s.notify(ctx, memorialID, actor.UserID)
	return &updated, nil
}

// RemoveCollaborator deletes a binding. Pending invitations are revoked the
// same way.
func (s *CollaboratorService) RemoveCollaborator(ctx context.Context, memorialID, collaboratorID string, actor models.Identity) error {
	if err := s.Require(ctx, memorialID, actor, models.CapRemove); err != nil {
		return err
	}

	err := s.store.WithinMemorial(ctx, memorialID, func(tx CollaboratorTx) error {
		rows, err := tx.Collaborators(ctx)
		if err != nil {
			return err
		}
		c := findCollaborator(rows, collaboratorID)
		if c == nil {
			return ErrCollaboratorNotFound
		}
		if c.IsAcceptedAdmin() && countAcceptedAdmins(rows) <= 1 {
			return ErrLastAdmin
		}
		return tx.Delete(ctx, collaboratorID)
	})
	if err != nil {
		return err
	}

	utils.LogMemorialAction("collaborator removed", memorialID, actor.UserID)
	s.notify(ctx, memorialID, actor.UserID)
	return nil
}

func (s *CollaboratorService) ListCollaborators(ctx context.Context, memorialID string, actor models.Identity) ([]models.Collaborator, error) {
	if err := s.Require(ctx, memorialID, actor, models.CapViewGrid); err != nil {
		return nil, err
	}
	return s.store.ListCollaborators(ctx, memorialID)
}

// ExpireInvitations marks lapsed pending invitations expired.
func (s *CollaboratorService) ExpireInvitations(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireInvitations(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.InvitationsTotal.WithLabelValues("expired").Add(float64(n))
	}
	return n, nil
}

func (s *CollaboratorService) notify(ctx context.Context, memorialID, userID string) {
	event := models.GridEvent{
		Type:       models.EventCollaboratorChanged,
		MemorialID: memorialID,
		User:       userID,
		At:         s.now(),
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), event); err != nil {
		log.Warn().Err(err).Str("event", event.Type).Msg("notify observer")
	}
}

// isPermissionError reports whether err is one of the caller-facing
// authorization errors.
func isPermissionError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnauthenticated)
}
