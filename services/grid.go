package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/LovationAdmin/memorial-api/models"
	"github.com/LovationAdmin/memorial-api/utils"
)

// GridConfig bounds the detached work of a submission.
type GridConfig struct {
	UploadTimeout  time.Duration
	ReflectTimeout time.Duration
	SummaryTimeout time.Duration
	ClaimTTL       time.Duration
}

func (c GridConfig) withDefaults() GridConfig {
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 30 * time.Second
	}
	if c.ReflectTimeout <= 0 {
		c.ReflectTimeout = 30 * time.Second
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 90 * time.Second
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 10 * time.Minute
	}
	return c
}

// GridService owns the 25 positions of every memorial: submissions,
// completion detection and the one-time tribute summary.
type GridService struct {
	store         Store
	objects       ObjectStore
	generator     Generator
	collaborators *CollaboratorService
	notifier      Notifier
	cfg           GridConfig
	metrics       *Metrics
	tracer        trace.Tracer
	now           func() time.Time
}

func NewGridService(store Store, objects ObjectStore, generator Generator, collaborators *CollaboratorService, notifier Notifier, cfg GridConfig) *GridService {
	if generator == nil {
		generator = UnavailableGenerator{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &GridService{
		store:         store,
		objects:       objects,
		generator:     generator,
		collaborators: collaborators,
		notifier:      notifier,
		cfg:           cfg.withDefaults(),
		metrics:       NewMetrics(),
		tracer:        otel.Tracer("github.com/LovationAdmin/memorial-api/services"),
		now:           time.Now,
	}
}

// validateSubmission checks the input and returns the detected image type.
func validateSubmission(in models.SubmitPhotoInput) (string, error) {
	if in.Position < 0 || in.Position >= models.GridSize {
		return "", ErrInvalidPosition
	}
	if strings.TrimSpace(in.Caption) == "" {
		return "", ErrEmptyCaption
	}
	if len(in.Image) == 0 {
		return "", ErrInvalidImage
	}
	mtype := mimetype.Detect(in.Image)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", fmt.Errorf("detected %s: %w", mtype.String(), ErrInvalidImage)
	}
	return mtype.String(), nil
}

func rejectReason(err error) string {
	switch {
	case isPermissionError(err):
		return "permission"
	case errors.Is(err, ErrPositionConflict):
		return "position_conflict"
	case errors.Is(err, ErrGridFull):
		return "grid_full"
	case errors.Is(err, ErrStorageFailure):
		return "storage"
	case errors.Is(err, ErrInvalidPosition), errors.Is(err, ErrEmptyCaption), errors.Is(err, ErrInvalidImage):
		return "invalid"
	case errors.Is(err, ErrMemorialNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (s *GridService) reject(span trace.Span, err error) error {
	s.metrics.SubmitRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// SubmitPhoto claims a position, stores the image, reflects on it and
// commits the slot. The submission that commits the 25th photo runs the
// tribute summary before returning.
//
// Once the position is claimed the remaining work runs detached from ctx
// cancellation so a dropped client cannot strand the claim.
func (s *GridService) SubmitPhoto(ctx context.Context, memorialID string, in models.SubmitPhotoInput, actor models.Identity) (*models.SubmitResult, error) {
	ctx, span := s.tracer.Start(ctx, "GridService.SubmitPhoto", trace.WithAttributes(
		attribute.String("memorial.id", memorialID),
		attribute.Int("photo.position", in.Position),
	))
	defer span.End()

	contentType, err := validateSubmission(in)
	if err != nil {
		return nil, s.reject(span, err)
	}
	if err := s.collaborators.Require(ctx, memorialID, actor, models.CapSubmitPhoto); err != nil {
		return nil, s.reject(span, err)
	}

	filled, err := s.store.CountPhotos(ctx, memorialID)
	if err != nil {
		return nil, s.reject(span, err)
	}
	if filled >= models.GridSize {
		return nil, s.reject(span, ErrGridFull)
	}

	photoID := uuid.NewString()
	if err := s.store.ClaimPosition(ctx, memorialID, in.Position, photoID, actor.UserID); err != nil {
		return nil, s.reject(span, err)
	}

	work := context.WithoutCancel(ctx)

	uploadCtx, cancel := context.WithTimeout(work, s.cfg.UploadTimeout)
	imageURL, err := s.objects.Put(uploadCtx, in.Image, contentType)
	cancel()
	if err != nil {
		s.releaseClaim(work, photoID)
		log.Error().Err(err).Str("memorial", utils.MaskID(memorialID)).Int("position", in.Position).Msg("store photo")
		return nil, s.reject(span, fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}

	caption := strings.TrimSpace(in.Caption)
	slot := &models.PhotoSlot{
		ID:              photoID,
		MemorialID:      memorialID,
		Position:        in.Position,
		ImageURL:        imageURL,
		Caption:         caption,
		ContributorName: strings.TrimSpace(in.ContributorName),
		Relationship:    strings.TrimSpace(in.Relationship),
		Reflection:      s.reflect(work, imageURL, caption),
		CreatedBy:       actor.UserID,
		CreatedAt:       s.now(),
	}

	filled, ownsCompletion, err := s.store.CommitPhoto(work, slot)
	if err != nil {
		s.releaseClaim(work, photoID)
		return nil, s.reject(span, fmt.Errorf("commit photo: %w", err))
	}

	s.metrics.PhotosCommittedTotal.Inc()
	span.SetAttributes(attribute.Int("grid.filled", filled))
	utils.LogMemorialAction(fmt.Sprintf("photo committed at %d (%d/%d)", in.Position, filled, models.GridSize), memorialID, actor.UserID)
	position := in.Position
	s.notify(work, models.GridEvent{Type: models.EventPhotoCommitted, MemorialID: memorialID, Position: &position, User: actor.UserID})

	result := &models.SubmitResult{Photo: *slot, FilledCount: filled}
	if ownsCompletion {
		memorial, err := s.runSummary(work, memorialID)
		if err != nil {
			result.SummaryErr = err
		} else {
			result.IsComplete = memorial.IsComplete
			result.Summary = memorial.Summary
		}
	}
	return result, nil
}

func (s *GridService) releaseClaim(ctx context.Context, photoID string) {
	if err := s.store.ReleaseClaim(ctx, photoID); err != nil {
		log.Error().Err(err).Str("photo", photoID).Msg("release claim")
	}
}

// reflect returns nil when the generator fails; the photo is committed
// without a reflection.
func (s *GridService) reflect(ctx context.Context, imageURL, caption string) *string {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReflectTimeout)
	defer cancel()

	text, err := s.generator.Reflect(ctx, imageURL, caption)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		s.metrics.ReflectionsTotal.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Msg("reflection unavailable, committing without it")
		return nil
	}
	s.metrics.ReflectionsTotal.WithLabelValues("ok").Inc()
	return &text
}

// runSummary generates the tribute for a full grid and completes the
// memorial. The caller must own the pending summary run.
func (s *GridService) runSummary(ctx context.Context, memorialID string) (*models.Memorial, error) {
	ctx, span := s.tracer.Start(ctx, "GridService.runSummary", trace.WithAttributes(
		attribute.String("memorial.id", memorialID),
	))
	defer span.End()

	photos, err := s.store.ListPhotos(ctx, memorialID)
	if err != nil {
		return nil, s.failSummary(ctx, span, memorialID, err)
	}
	entries := make([]models.MemoryEntry, 0, len(photos))
	for _, p := range photos {
		e := models.MemoryEntry{
			Position:        p.Position,
			Caption:         p.Caption,
			ContributorName: p.ContributorName,
			Relationship:    p.Relationship,
		}
		if p.Reflection != nil {
			e.Reflection = *p.Reflection
		}
		entries = append(entries, e)
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.SummaryTimeout)
	summary, err := s.generator.Summarize(genCtx, entries)
	cancel()
	summary = strings.TrimSpace(summary)
	if err == nil && summary == "" {
		err = errors.New("empty summary")
	}
	if err != nil {
		if !errors.Is(err, ErrGeneratorUnavailable) {
			err = fmt.Errorf("%v: %w", err, ErrGeneratorUnavailable)
		}
		return nil, s.failSummary(ctx, span, memorialID, err)
	}

	memorial, err := s.store.CompleteMemorial(ctx, memorialID, summary)
	if err != nil {
		return nil, s.failSummary(ctx, span, memorialID, err)
	}

	s.metrics.SummariesTotal.WithLabelValues("ok").Inc()
	s.metrics.MemorialsCompleted.Inc()
	utils.LogMemorialAction("memorial completed", memorialID, "")
	s.notify(ctx, models.GridEvent{Type: models.EventMemorialCompleted, MemorialID: memorialID})
	return memorial, nil
}

func (s *GridService) failSummary(ctx context.Context, span trace.Span, memorialID string, cause error) error {
	s.metrics.SummariesTotal.WithLabelValues("failed").Inc()
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	log.Error().Err(cause).Str("memorial", utils.MaskID(memorialID)).Msg("tribute summary failed")

	if err := s.store.FailSummary(ctx, memorialID, cause.Error()); err != nil {
		log.Error().Err(err).Str("memorial", utils.MaskID(memorialID)).Msg("record summary failure")
	}
	s.notify(ctx, models.GridEvent{Type: models.EventSummaryFailed, MemorialID: memorialID})
	return cause
}

// staleBefore is the start time before which a pending summary run is
// considered abandoned.
func (s *GridService) staleBefore() time.Time {
	return s.now().Add(-2 * s.cfg.SummaryTimeout)
}

// RetrySummary re-runs the tribute summary of a full memorial. It is a no-op
// on a complete memorial.
func (s *GridService) RetrySummary(ctx context.Context, memorialID string, actor models.Identity) (*models.Memorial, error) {
	if err := s.collaborators.Require(ctx, memorialID, actor, models.CapManageMemorial); err != nil {
		return nil, err
	}
	started, err := s.store.StartSummary(ctx, memorialID, s.staleBefore())
	if err != nil {
		return nil, err
	}
	if !started {
		return s.store.GetMemorial(ctx, memorialID)
	}
	utils.LogMemorialAction("summary retry", memorialID, actor.UserID)
	return s.runSummary(context.WithoutCancel(ctx), memorialID)
}

// RunPendingSummaries retries every full memorial whose summary failed,
// never started or was abandoned. Returns the number completed.
func (s *GridService) RunPendingSummaries(ctx context.Context) (int, error) {
	ids, err := s.store.ListSummaryCandidates(ctx, s.staleBefore())
	if err != nil {
		return 0, err
	}
	completed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		started, err := s.store.StartSummary(ctx, id, s.staleBefore())
		if err != nil {
			if !errors.Is(err, ErrSummaryInProgress) {
				log.Warn().Err(err).Str("memorial", utils.MaskID(id)).Msg("start summary")
			}
			continue
		}
		if !started {
			continue
		}
		if _, err := s.runSummary(ctx, id); err == nil {
			completed++
		}
	}
	return completed, nil
}

// ReleaseStaleClaims frees positions claimed longer than the claim TTL ago
// and never committed.
func (s *GridService) ReleaseStaleClaims(ctx context.Context) (int64, error) {
	n, err := s.store.ReleaseStaleClaims(ctx, s.now().Add(-s.cfg.ClaimTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.SweepReleasedClaims.Add(float64(n))
	}
	return n, nil
}

// ListPhotos returns committed photos ordered by position.
func (s *GridService) ListPhotos(ctx context.Context, memorialID string, actor models.Identity) ([]models.PhotoSlot, error) {
	if err := s.collaborators.Require(ctx, memorialID, actor, models.CapViewGrid); err != nil {
		return nil, err
	}
	return s.store.ListPhotos(ctx, memorialID)
}

// GridState returns the memorial, its photos and the positions still open.
func (s *GridService) GridState(ctx context.Context, memorialID string, actor models.Identity) (*models.GridState, error) {
	if err := s.collaborators.Require(ctx, memorialID, actor, models.CapViewGrid); err != nil {
		return nil, err
	}
	memorial, err := s.store.GetMemorial(ctx, memorialID)
	if err != nil {
		return nil, err
	}
	photos, err := s.store.ListPhotos(ctx, memorialID)
	if err != nil {
		return nil, err
	}

	taken := make(map[int]bool, len(photos))
	for _, p := range photos {
		taken[p.Position] = true
	}
	open := make([]int, 0, models.GridSize-len(photos))
	for p := 0; p < models.GridSize; p++ {
		if !taken[p] {
			open = append(open, p)
		}
	}
	return &models.GridState{Memorial: *memorial, Photos: photos, OpenPositions: open}, nil
}

func (s *GridService) notify(ctx context.Context, event models.GridEvent) {
	if event.At.IsZero() {
		event.At = s.now()
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		log.Warn().Err(err).Str("event", event.Type).Msg("notify observer")
	}
}
