package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/LovationAdmin/memorial-api/models"
	"github.com/LovationAdmin/memorial-api/utils"
)

const uniqueViolation = "23505"

// PostgresStore implements Store on lib/pq. Position claims rely on the
// memorial_photos_position_key unique constraint.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// validID reports whether id can name a row. Keys are UUID columns, so
// anything else is reported as not found instead of a cast error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const memorialColumns = `
	id, name, created_by, is_complete, summary, summary_status, summary_error, summary_started_at,
	birth_year, death_year, banner_image_url, created_at, updated_at`

func scanMemorial(row rowScanner) (*models.Memorial, error) {
	var m models.Memorial
	var summary sql.NullString
	var startedAt sql.NullTime
	var birthYear, deathYear sql.NullInt64
	err := row.Scan(
		&m.ID, &m.Name, &m.CreatedBy, &m.IsComplete, &summary, &m.SummaryStatus, &m.SummaryError, &startedAt,
		&birthYear, &deathYear, &m.Banner.ImageURL, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if summary.Valid {
		m.Summary = &summary.String
	}
	if startedAt.Valid {
		m.SummaryStartedAt = &startedAt.Time
	}
	if birthYear.Valid {
		y := int(birthYear.Int64)
		m.Banner.BirthYear = &y
	}
	if deathYear.Valid {
		y := int(deathYear.Int64)
		m.Banner.DeathYear = &y
	}
	return &m, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func (s *PostgresStore) CreateMemorial(ctx context.Context, m *models.Memorial, admin *models.Collaborator) error {
	return utils.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memorials (id, name, created_by, summary_status, birth_year, death_year, banner_image_url, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, m.ID, m.Name, m.CreatedBy, m.SummaryStatus, nullableInt(m.Banner.BirthYear), nullableInt(m.Banner.DeathYear),
			m.Banner.ImageURL, m.CreatedAt, m.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert memorial: %w", err)
		}
		if err := insertCollaborator(ctx, tx, admin); err != nil {
			return fmt.Errorf("insert first admin: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetMemorial(ctx context.Context, id string) (*models.Memorial, error) {
	if !validID(id) {
		return nil, ErrMemorialNotFound
	}
	m, err := scanMemorial(s.db.QueryRowContext(ctx, `SELECT `+memorialColumns+` FROM memorials WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemorialNotFound
	}
	return m, err
}

func (s *PostgresStore) queryMemorials(ctx context.Context, query string, args ...any) ([]models.Memorial, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Memorial
	for rows.Next() {
		m, err := scanMemorial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListMemorialsForUser(ctx context.Context, userID string) ([]models.Memorial, error) {
	return s.queryMemorials(ctx, `
		SELECT `+memorialColumns+`
		FROM memorials m
		WHERE EXISTS (
			SELECT 1 FROM memorial_collaborators c
			WHERE c.memorial_id = m.id AND c.user_id = $1 AND c.invitation_accepted
		)
		ORDER BY created_at DESC
	`, userID)
}

func (s *PostgresStore) ListAllMemorials(ctx context.Context) ([]models.Memorial, error) {
	return s.queryMemorials(ctx, `SELECT `+memorialColumns+` FROM memorials ORDER BY created_at DESC`)
}

func (s *PostgresStore) UpdateMemorial(ctx context.Context, m *models.Memorial) error {
	if !validID(m.ID) {
		return ErrMemorialNotFound
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE memorials
		SET name = $1, birth_year = $2, death_year = $3, banner_image_url = $4, updated_at = NOW()
		WHERE id = $5
	`, m.Name, nullableInt(m.Banner.BirthYear), nullableInt(m.Banner.DeathYear), m.Banner.ImageURL, m.ID)
	if err != nil {
		return err
	}
	return expectRow(res, ErrMemorialNotFound)
}

func (s *PostgresStore) DeleteMemorial(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrMemorialNotFound
	}
	return utils.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memorial_photos WHERE memorial_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memorial_collaborators WHERE memorial_id = $1`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM memorials WHERE id = $1`, id)
		if err != nil {
			return err
		}
		return expectRow(res, ErrMemorialNotFound)
	})
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr, true
	}
	return nil, false
}

func (s *PostgresStore) CountPhotos(ctx context.Context, memorialID string) (int, error) {
	if !validID(memorialID) {
		return 0, ErrMemorialNotFound
	}
	var exists bool
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM memorials WHERE id = $1),
		       (SELECT COUNT(*) FROM memorial_photos WHERE memorial_id = $1 AND committed)
	`, memorialID).Scan(&exists, &n)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrMemorialNotFound
	}
	return n, nil
}

func (s *PostgresStore) ClaimPosition(ctx context.Context, memorialID string, position int, photoID, userID string) error {
	if !validID(memorialID) {
		return ErrMemorialNotFound
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memorial_photos (id, memorial_id, position, created_by, claimed_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, photoID, memorialID, position, userID)
	if err == nil {
		return nil
	}
	if pqErr, ok := isUniqueViolation(err); ok && pqErr.Constraint == "memorial_photos_position_key" {
		return ErrPositionConflict
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return ErrMemorialNotFound
	}
	return fmt.Errorf("claim position: %w", err)
}

func (s *PostgresStore) ReleaseClaim(ctx context.Context, photoID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memorial_photos WHERE id = $1 AND NOT committed`, photoID)
	return err
}

func (s *PostgresStore) CommitPhoto(ctx context.Context, slot *models.PhotoSlot) (int, bool, error) {
	var filled int
	var owns bool
	err := utils.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		// Serialize commits per memorial so exactly one transaction observes
		// the 25th committed row.
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM memorials WHERE id = $1 FOR UPDATE`, slot.MemorialID).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMemorialNotFound
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE memorial_photos
			SET image_url = $2, caption = $3, contributor_name = $4, relationship = $5,
			    reflection = $6, committed = TRUE, created_at = $7
			WHERE id = $1 AND NOT committed
		`, slot.ID, slot.ImageURL, slot.Caption, slot.ContributorName, slot.Relationship, slot.Reflection, slot.CreatedAt)
		if err != nil {
			return err
		}
		if err := expectRow(res, ErrPositionConflict); err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM memorial_photos WHERE memorial_id = $1 AND committed
		`, slot.MemorialID).Scan(&filled); err != nil {
			return err
		}
		if filled < models.GridSize {
			return nil
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE memorials
			SET summary_status = 'pending', summary_started_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND NOT is_complete AND summary_status = 'none'
		`, slot.MemorialID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		owns = n == 1
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return filled, owns, nil
}

func (s *PostgresStore) ListPhotos(ctx context.Context, memorialID string) ([]models.PhotoSlot, error) {
	if _, err := s.GetMemorial(ctx, memorialID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memorial_id, position, image_url, caption, contributor_name, relationship,
		       reflection, created_by, created_at
		FROM memorial_photos
		WHERE memorial_id = $1 AND committed
		ORDER BY position ASC
	`, memorialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	photos := []models.PhotoSlot{}
	for rows.Next() {
		var p models.PhotoSlot
		var reflection sql.NullString
		if err := rows.Scan(&p.ID, &p.MemorialID, &p.Position, &p.ImageURL, &p.Caption, &p.ContributorName,
			&p.Relationship, &reflection, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		if reflection.Valid {
			p.Reflection = &reflection.String
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

func (s *PostgresStore) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memorial_photos WHERE NOT committed AND claimed_at < $1`, claimedBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func lockMemorial(ctx context.Context, tx *sql.Tx, memorialID string) (*models.Memorial, error) {
	if !validID(memorialID) {
		return nil, ErrMemorialNotFound
	}
	m, err := scanMemorial(tx.QueryRowContext(ctx, `SELECT `+memorialColumns+` FROM memorials WHERE id = $1 FOR UPDATE`, memorialID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemorialNotFound
	}
	return m, err
}

func countCommitted(ctx context.Context, tx *sql.Tx, memorialID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM memorial_photos WHERE memorial_id = $1 AND committed`, memorialID).Scan(&n)
	return n, err
}

func (s *PostgresStore) StartSummary(ctx context.Context, memorialID string, staleBefore time.Time) (bool, error) {
	started := false
	err := utils.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		m, err := lockMemorial(ctx, tx, memorialID)
		if err != nil {
			return err
		}
		if m.IsComplete {
			return nil
		}
		n, err := countCommitted(ctx, tx, memorialID)
		if err != nil {
			return err
		}
		if n < models.GridSize {
			return ErrGridIncomplete
		}
		if m.SummaryStatus == models.SummaryPending && m.SummaryStartedAt != nil && !m.SummaryStartedAt.Before(staleBefore) {
			return ErrSummaryInProgress
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE memorials SET summary_status = 'pending', summary_started_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, memorialID); err != nil {
			return err
		}
		started = true
		return nil
	})
	return started, err
}

func (s *PostgresStore) CompleteMemorial(ctx context.Context, memorialID, summary string) (*models.Memorial, error) {
	var out *models.Memorial
	err := utils.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := lockMemorial(ctx, tx, memorialID); err != nil {
			return err
		}
		n, err := countCommitted(ctx, tx, memorialID)
		if err != nil {
			return err
		}
		if n != models.GridSize {
			return ErrGridIncomplete
		}
		out, err = scanMemorial(tx.QueryRowContext(ctx, `
			UPDATE memorials
			SET summary = $2, is_complete = TRUE, summary_status = 'ready', summary_error = '', updated_at = NOW()
			WHERE id = $1
			RETURNING `+memorialColumns, memorialID, summary))
		return err
	})
	return out, err
}

func (s *PostgresStore) FailSummary(ctx context.Context, memorialID, reason string) error {
	if !validID(memorialID) {
		return ErrMemorialNotFound
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE memorials SET summary_status = 'failed', summary_error = $2, updated_at = NOW()
		WHERE id = $1 AND NOT is_complete
	`, memorialID, reason)
	return err
}

func (s *PostgresStore) ListSummaryCandidates(ctx context.Context, staleBefore time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id
		FROM memorials m
		WHERE NOT m.is_complete
		  AND (m.summary_status IN ('none', 'failed')
		       OR (m.summary_status = 'pending' AND (m.summary_started_at IS NULL OR m.summary_started_at < $1)))
		  AND (SELECT COUNT(*) FROM memorial_photos p WHERE p.memorial_id = m.id AND p.committed) = 25
		ORDER BY m.id
	`, staleBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const collaboratorColumns = `
	id, memorial_id, email, user_id, role, invitation_accepted, invitation_status,
	token_hash, token_expires_at, token_used_at, invited_by, created_at`

func scanCollaborator(row rowScanner) (*models.Collaborator, error) {
	var c models.Collaborator
	var userID, tokenHash sql.NullString
	var expiresAt, usedAt sql.NullTime
	var role string
	err := row.Scan(&c.ID, &c.MemorialID, &c.Email, &userID, &role, &c.InvitationAccepted, &c.InvitationStatus,
		&tokenHash, &expiresAt, &usedAt, &c.InvitedBy, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Role = models.Role(role)
	if userID.Valid {
		c.UserID = &userID.String
	}
	c.TokenHash = tokenHash.String
	if expiresAt.Valid {
		c.TokenExpiresAt = &expiresAt.Time
	}
	if usedAt.Valid {
		c.TokenUsedAt = &usedAt.Time
	}
	return &c, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func insertCollaborator(ctx context.Context, tx *sql.Tx, c *models.Collaborator) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memorial_collaborators (`+collaboratorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, c.ID, c.MemorialID, c.Email, c.UserID, string(c.Role), c.InvitationAccepted, c.InvitationStatus,
		nullableString(c.TokenHash), c.TokenExpiresAt, c.TokenUsedAt, c.InvitedBy, c.CreatedAt)
	return mapCollaboratorConstraint(err)
}

func mapCollaboratorConstraint(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := isUniqueViolation(err); ok {
		switch pqErr.Constraint {
		case "idx_collaborators_memorial_email":
			return ErrDuplicateInvitation
		case "idx_collaborators_memorial_user":
			return ErrAlreadyCollaborator
		}
	}
	return err
}

func (s *PostgresStore) FindCollaboratorByUser(ctx context.Context, memorialID, userID string) (*models.Collaborator, error) {
	if !validID(memorialID) {
		return nil, ErrMemorialNotFound
	}
	c, err := scanCollaborator(s.db.QueryRowContext(ctx, `
		SELECT `+collaboratorColumns+` FROM memorial_collaborators
		WHERE memorial_id = $1 AND user_id = $2
	`, memorialID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, memorialID string) ([]models.Collaborator, error) {
	if _, err := s.GetMemorial(ctx, memorialID); err != nil {
		return nil, err
	}
	return queryCollaborators(ctx, s.db, memorialID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryCollaborators(ctx context.Context, q querier, memorialID string) ([]models.Collaborator, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+collaboratorColumns+` FROM memorial_collaborators
		WHERE memorial_id = $1
		ORDER BY created_at ASC
	`, memorialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Collaborator{}
	for rows.Next() {
		c, err := scanCollaborator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindInvitationByTokenHash(ctx context.Context, tokenHash string) (*models.Collaborator, error) {
	c, err := scanCollaborator(s.db.QueryRowContext(ctx, `
		SELECT `+collaboratorColumns+` FROM memorial_collaborators WHERE token_hash = $1
	`, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	return c, err
}

func (s *PostgresStore) ExpireInvitations(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memorial_collaborators SET invitation_status = 'expired'
		WHERE invitation_status = 'pending' AND token_expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) WithinMemorial(ctx context.Context, memorialID string, fn func(tx CollaboratorTx) error) error {
	return utils.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := lockMemorial(ctx, tx, memorialID); err != nil {
			return err
		}
		return fn(&postgresCollaboratorTx{tx: tx, memorialID: memorialID})
	})
}

type postgresCollaboratorTx struct {
	tx         *sql.Tx
	memorialID string
}

func (t *postgresCollaboratorTx) Collaborators(ctx context.Context) ([]models.Collaborator, error) {
	return queryCollaborators(ctx, t.tx, t.memorialID)
}

func (t *postgresCollaboratorTx) Insert(ctx context.Context, c *models.Collaborator) error {
	c.MemorialID = t.memorialID
	return insertCollaborator(ctx, t.tx, c)
}

func (t *postgresCollaboratorTx) Update(ctx context.Context, c *models.Collaborator) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE memorial_collaborators
		SET user_id = $3, role = $4, invitation_accepted = $5, invitation_status = $6, token_used_at = $7
		WHERE id = $1 AND memorial_id = $2
	`, c.ID, t.memorialID, c.UserID, string(c.Role), c.InvitationAccepted, c.InvitationStatus, c.TokenUsedAt)
	if err != nil {
		return mapCollaboratorConstraint(err)
	}
	return expectRow(res, ErrCollaboratorNotFound)
}

func (t *postgresCollaboratorTx) Delete(ctx context.Context, collaboratorID string) error {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM memorial_collaborators WHERE id = $1 AND memorial_id = $2
	`, collaboratorID, t.memorialID)
	if err != nil {
		return err
	}
	return expectRow(res, ErrCollaboratorNotFound)
}
