package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/LovationAdmin/memorial-api/models"
)

type memoryPhoto struct {
	slot      models.PhotoSlot
	committed bool
	claimedAt time.Time
}

// MemoryStore is an in-process Store used for development and tests. A
// single mutex makes every method atomic, which gives the same uniqueness and
// completion guarantees the Postgres constraints give.
type MemoryStore struct {
	mu            sync.Mutex
	memorials     map[string]*models.Memorial
	photos        map[string]*memoryPhoto
	positions     map[string]map[int]string
	collaborators map[string][]models.Collaborator
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		memorials:     make(map[string]*models.Memorial),
		photos:        make(map[string]*memoryPhoto),
		positions:     make(map[string]map[int]string),
		collaborators: make(map[string][]models.Collaborator),
		now:           time.Now,
	}
}

func (s *MemoryStore) CreateMemorial(ctx context.Context, m *models.Memorial, admin *models.Collaborator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.memorials[m.ID]; exists {
		return fmt.Errorf("memorial %s already exists", m.ID)
	}
	copied := *m
	s.memorials[m.ID] = &copied
	s.positions[m.ID] = make(map[int]string)
	s.collaborators[m.ID] = []models.Collaborator{*admin}
	return nil
}

func (s *MemoryStore) GetMemorial(ctx context.Context, id string) (*models.Memorial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memorials[id]
	if !ok {
		return nil, ErrMemorialNotFound
	}
	copied := *m
	return &copied, nil
}

func (s *MemoryStore) ListMemorialsForUser(ctx context.Context, userID string) ([]models.Memorial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Memorial
	for id, collabs := range s.collaborators {
		for _, c := range collabs {
			if c.InvitationAccepted && c.UserID != nil && *c.UserID == userID {
				out = append(out, *s.memorials[id])
				break
			}
		}
	}
	sortMemorials(out)
	return out, nil
}

func (s *MemoryStore) ListAllMemorials(ctx context.Context) ([]models.Memorial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Memorial, 0, len(s.memorials))
	for _, m := range s.memorials {
		out = append(out, *m)
	}
	sortMemorials(out)
	return out, nil
}

func sortMemorials(ms []models.Memorial) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].CreatedAt.After(ms[j].CreatedAt) })
}

func (s *MemoryStore) UpdateMemorial(ctx context.Context, m *models.Memorial) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.memorials[m.ID]
	if !ok {
		return ErrMemorialNotFound
	}
	existing.Name = m.Name
	existing.Banner = m.Banner
	existing.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) DeleteMemorial(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memorials[id]; !ok {
		return ErrMemorialNotFound
	}
	for _, photoID := range s.positions[id] {
		delete(s.photos, photoID)
	}
	delete(s.positions, id)
	delete(s.collaborators, id)
	delete(s.memorials, id)
	return nil
}

func (s *MemoryStore) countCommittedLocked(memorialID string) int {
	n := 0
	for _, photoID := range s.positions[memorialID] {
		if s.photos[photoID].committed {
			n++
		}
	}
	return n
}

func (s *MemoryStore) CountPhotos(ctx context.Context, memorialID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memorials[memorialID]; !ok {
		return 0, ErrMemorialNotFound
	}
	return s.countCommittedLocked(memorialID), nil
}

func (s *MemoryStore) ClaimPosition(ctx context.Context, memorialID string, position int, photoID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions, ok := s.positions[memorialID]
	if !ok {
		return ErrMemorialNotFound
	}
	if _, taken := positions[position]; taken {
		return ErrPositionConflict
	}
	positions[position] = photoID
	s.photos[photoID] = &memoryPhoto{
		slot: models.PhotoSlot{
			ID:         photoID,
			MemorialID: memorialID,
			Position:   position,
			CreatedBy:  userID,
		},
		claimedAt: s.now(),
	}
	return nil
}

func (s *MemoryStore) ReleaseClaim(ctx context.Context, photoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.photos[photoID]
	if !ok || p.committed {
		return nil
	}
	delete(s.positions[p.slot.MemorialID], p.slot.Position)
	delete(s.photos, photoID)
	return nil
}

func (s *MemoryStore) CommitPhoto(ctx context.Context, slot *models.PhotoSlot) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memorials[slot.MemorialID]
	if !ok {
		return 0, false, ErrMemorialNotFound
	}
	p, ok := s.photos[slot.ID]
	if !ok || p.committed {
		return 0, false, ErrPositionConflict
	}
	p.slot = *slot
	p.committed = true

	filled := s.countCommittedLocked(slot.MemorialID)
	owns := false
	if filled == models.GridSize && !m.IsComplete && m.SummaryStatus == models.SummaryNone {
		now := s.now()
		m.SummaryStatus = models.SummaryPending
		m.SummaryStartedAt = &now
		m.UpdatedAt = now
		owns = true
	}
	return filled, owns, nil
}

func (s *MemoryStore) ListPhotos(ctx context.Context, memorialID string) ([]models.PhotoSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memorials[memorialID]; !ok {
		return nil, ErrMemorialNotFound
	}
	out := []models.PhotoSlot{}
	for _, photoID := range s.positions[memorialID] {
		if p := s.photos[photoID]; p.committed {
			out = append(out, p.slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *MemoryStore) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int64
	for id, p := range s.photos {
		if !p.committed && p.claimedAt.Before(claimedBefore) {
			delete(s.positions[p.slot.MemorialID], p.slot.Position)
			delete(s.photos, id)
			released++
		}
	}
	return released, nil
}

func (s *MemoryStore) StartSummary(ctx context.Context, memorialID string, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memorials[memorialID]
	if !ok {
		return false, ErrMemorialNotFound
	}
	if m.IsComplete {
		return false, nil
	}
	if s.countCommittedLocked(memorialID) < models.GridSize {
		return false, ErrGridIncomplete
	}
	if m.SummaryStatus == models.SummaryPending && m.SummaryStartedAt != nil && !m.SummaryStartedAt.Before(staleBefore) {
		return false, ErrSummaryInProgress
	}
	now := s.now()
	m.SummaryStatus = models.SummaryPending
	m.SummaryStartedAt = &now
	m.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) CompleteMemorial(ctx context.Context, memorialID, summary string) (*models.Memorial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memorials[memorialID]
	if !ok {
		return nil, ErrMemorialNotFound
	}
	if s.countCommittedLocked(memorialID) != models.GridSize {
		return nil, ErrGridIncomplete
	}
	m.Summary = &summary
	m.IsComplete = true
	m.SummaryStatus = models.SummaryReady
	m.SummaryError = ""
	m.UpdatedAt = s.now()
	copied := *m
	return &copied, nil
}

func (s *MemoryStore) FailSummary(ctx context.Context, memorialID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memorials[memorialID]
	if !ok {
		return ErrMemorialNotFound
	}
	if m.IsComplete {
		return nil
	}
	m.SummaryStatus = models.SummaryFailed
	m.SummaryError = reason
	m.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ListSummaryCandidates(ctx context.Context, staleBefore time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, m := range s.memorials {
		if m.IsComplete || s.countCommittedLocked(id) != models.GridSize {
			continue
		}
		switch m.SummaryStatus {
		case models.SummaryNone, models.SummaryFailed:
			ids = append(ids, id)
		case models.SummaryPending:
			if m.SummaryStartedAt == nil || m.SummaryStartedAt.Before(staleBefore) {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) FindCollaboratorByUser(ctx context.Context, memorialID, userID string) (*models.Collaborator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memorials[memorialID]; !ok {
		return nil, ErrMemorialNotFound
	}
	for _, c := range s.collaborators[memorialID] {
		if c.UserID != nil && *c.UserID == userID {
			copied := c
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListCollaborators(ctx context.Context, memorialID string) ([]models.Collaborator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memorials[memorialID]; !ok {
		return nil, ErrMemorialNotFound
	}
	return append([]models.Collaborator(nil), s.collaborators[memorialID]...), nil
}

func (s *MemoryStore) FindInvitationByTokenHash(ctx context.Context, tokenHash string) (*models.Collaborator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, collabs := range s.collaborators {
		for _, c := range collabs {
			if c.TokenHash != "" && c.TokenHash == tokenHash {
				copied := c
				return &copied, nil
			}
		}
	}
	return nil, ErrTokenNotFound
}

func (s *MemoryStore) ExpireInvitations(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, collabs := range s.collaborators {
		for i := range collabs {
			c := &collabs[i]
			if c.InvitationStatus == models.InvitationPending && c.TokenExpiresAt != nil && !now.Before(*c.TokenExpiresAt) {
				c.InvitationStatus = models.InvitationExpired
				n++
			}
		}
		s.collaborators[id] = collabs
	}
	return n, nil
}

func (s *MemoryStore) WithinMemorial(ctx context.Context, memorialID string, fn func(tx CollaboratorTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memorials[memorialID]; !ok {
		return ErrMemorialNotFound
	}
	tx := &memoryCollaboratorTx{
		memorialID: memorialID,
		rows:       append([]models.Collaborator(nil), s.collaborators[memorialID]...),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := s.checkCollaboratorConstraintsLocked(tx.rows); err != nil {
		return err
	}
	s.collaborators[memorialID] = tx.rows
	return nil
}

// checkCollaboratorConstraintsLocked mirrors the partial unique indexes of the
// Postgres schema.
func (s *MemoryStore) checkCollaboratorConstraintsLocked(rows []models.Collaborator) error {
	emails := make(map[string]bool)
	users := make(map[string]bool)
	for _, c := range rows {
		if c.Email != "" && c.InvitationStatus != models.InvitationExpired {
			key := strings.ToLower(c.Email)
			if emails[key] {
				return ErrDuplicateInvitation
			}
			emails[key] = true
		}
		if c.UserID != nil {
			if users[*c.UserID] {
				return ErrAlreadyCollaborator
			}
			users[*c.UserID] = true
		}
		if c.TokenHash != "" {
			for _, collabs := range s.collaborators {
				for _, other := range collabs {
					if other.ID != c.ID && other.TokenHash == c.TokenHash {
						return fmt.Errorf("duplicate token hash")
					}
				}
			}
		}
	}
	return nil
}

type memoryCollaboratorTx struct {
	memorialID string
	rows       []models.Collaborator
}

func (tx *memoryCollaboratorTx) Collaborators(ctx context.Context) ([]models.Collaborator, error) {
	return append([]models.Collaborator(nil), tx.rows...), nil
}

func (tx *memoryCollaboratorTx) Insert(ctx context.Context, c *models.Collaborator) error {
	c.MemorialID = tx.memorialID
	tx.rows = append(tx.rows, *c)
	return nil
}

func (tx *memoryCollaboratorTx) Update(ctx context.Context, c *models.Collaborator) error {
	for i := range tx.rows {
		if tx.rows[i].ID == c.ID {
			tx.rows[i] = *c
			return nil
		}
	}
	return ErrCollaboratorNotFound
}

func (tx *memoryCollaboratorTx) Delete(ctx context.Context, collaboratorID string) error {
	for i := range tx.rows {
		if tx.rows[i].ID == collaboratorID {
			tx.rows = append(tx.rows[:i], tx.rows[i+1:]...)
			return nil
		}
	}
	return ErrCollaboratorNotFound
}
