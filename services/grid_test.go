package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LovationAdmin/memorial-api/models"
)

func TestSubmitPhoto_LastPositionCompletesMemorial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fill(t, 24)

	result, err := f.submit(ctx, 24, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.GridSize, result.FilledCount)
	assert.True(t, result.IsComplete)
	require.NotNil(t, result.Summary)
	assert.NotEmpty(t, *result.Summary)
	assert.NoError(t, result.SummaryErr)

	m, err := f.store.GetMemorial(ctx, f.memorial.ID)
	require.NoError(t, err)
	assert.True(t, m.IsComplete)
	assert.Equal(t, models.SummaryReady, m.SummaryStatus)
	assert.Equal(t, 1, f.gen.summaries())
	assert.Len(t, f.gen.lastEntries, models.GridSize)
	assert.Equal(t, "Memory 0", f.gen.lastEntries[0].Caption)
	assert.Equal(t, "A reflection on Memory 0", f.gen.lastEntries[0].Reflection)
	assert.Contains(t, f.events.types(), models.EventMemorialCompleted)
}

func TestSubmitPhoto_SummaryFailureThenRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fill(t, 24)
	f.gen.failSummaries(errors.New("model overloaded"))

	result, err := f.submit(ctx, 24, f.admin)
	require.NoError(t, err, "the photo commits even when the summary fails")
	assert.Equal(t, models.GridSize, result.FilledCount)
	assert.False(t, result.IsComplete)
	assert.Nil(t, result.Summary)
	assert.ErrorIs(t, result.SummaryErr, ErrGeneratorUnavailable)

	m, err := f.store.GetMemorial(ctx, f.memorial.ID)
	require.NoError(t, err)
	assert.False(t, m.IsComplete)
	assert.Equal(t, models.SummaryFailed, m.SummaryStatus)
	assert.NotEmpty(t, m.SummaryError)
	assert.Contains(t, f.events.types(), models.EventSummaryFailed)

	f.gen.failSummaries(nil)
	m, err = f.grid.RetrySummary(ctx, f.memorial.ID, f.admin)
	require.NoError(t, err)
	assert.True(t, m.IsComplete)
	require.NotNil(t, m.Summary)
	assert.Empty(t, m.SummaryError)

	// Complete memorials keep their summary.
	calls := f.gen.summaries()
	again, err := f.grid.RetrySummary(ctx, f.memorial.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, *m.Summary, *again.Summary)
	assert.Equal(t, calls, f.gen.summaries())
}

func TestSubmitPhoto_ConcurrentSamePosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := models.Identity{UserID: "user-alice", Email: "alice@example.com"}
	bob := models.Identity{UserID: "user-bob", Email: "bob@example.com"}
	f.join(t, alice, models.RoleContributor)
	f.join(t, bob, models.RoleContributor)

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]*models.SubmitResult, 2)
		errs    = make([]error, 2)
	)
	for i, who := range []models.Identity{alice, bob} {
		wg.Add(1)
		go func(i int, who models.Identity) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.submit(ctx, 10, who)
		}(i, who)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for i := range errs {
		if errs[i] == nil {
			succeeded++
			assert.Equal(t, 10, results[i].Photo.Position)
		} else {
			assert.ErrorIs(t, errs[i], ErrPositionConflict)
		}
	}
	assert.Equal(t, 1, succeeded)

	photos, err := f.store.ListPhotos(ctx, f.memorial.ID)
	require.NoError(t, err)
	assert.Len(t, photos, 1)
}

func TestSubmitPhoto_ConcurrentCompletionSummarizesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fill(t, 23, 24)

	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make(chan *models.SubmitResult, 2)
	for _, p := range []int{23, 24} {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			<-start
			r, err := f.submit(ctx, p, f.admin)
			if assert.NoError(t, err) {
				results <- r
			}
		}(p)
	}
	close(start)
	wg.Wait()
	close(results)

	completed := 0
	for r := range results {
		if r.IsComplete {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, f.gen.summaries())
}

func TestSubmitPhoto_ViewerIsRejectedBeforeSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := models.Identity{UserID: "user-viewer", Email: "viewer@example.com"}
	f.join(t, viewer, models.RoleViewer)

	_, err := f.submit(ctx, 3, viewer)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Zero(t, f.objects.putCount())

	n, err := f.store.CountPhotos(ctx, f.memorial.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The position was never claimed.
	_, err = f.submit(ctx, 3, f.admin)
	assert.NoError(t, err)
}

func TestSubmitPhoto_AccessRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stranger := models.Identity{UserID: "user-stranger", Email: "stranger@example.com"}
	_, err := f.submit(ctx, 0, stranger)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.submit(ctx, 0, models.Identity{})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	owner := models.Identity{UserID: "user-owner", Email: "owner@example.com", PlatformOwner: true}
	result, err := f.submit(ctx, 0, owner)
	require.NoError(t, err)
	assert.Equal(t, "user-owner", result.Photo.CreatedBy)

	_, err = f.grid.SubmitPhoto(ctx, "missing", models.SubmitPhotoInput{Position: 1, Image: testImage(1), Caption: "x"}, f.admin)
	assert.ErrorIs(t, err, ErrMemorialNotFound)
}

func TestSubmitPhoto_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   models.SubmitPhotoInput
		want error
	}{
		{"negative position", models.SubmitPhotoInput{Position: -1, Image: testImage(1), Caption: "x"}, ErrInvalidPosition},
		{"position past grid", models.SubmitPhotoInput{Position: models.GridSize, Image: testImage(1), Caption: "x"}, ErrInvalidPosition},
		{"blank caption", models.SubmitPhotoInput{Position: 1, Image: testImage(1), Caption: "   "}, ErrEmptyCaption},
		{"empty image", models.SubmitPhotoInput{Position: 1, Caption: "x"}, ErrInvalidImage},
		{"not an image", models.SubmitPhotoInput{Position: 1, Image: []byte("just some text"), Caption: "x"}, ErrInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.grid.SubmitPhoto(ctx, f.memorial.ID, tt.in, f.admin)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, f.objects.putCount())
}

func TestSubmitPhoto_GridFull(t *testing.T) {
	f := newFixture(t)
	f.fill(t)

	_, err := f.submit(context.Background(), 0, f.admin)
	assert.ErrorIs(t, err, ErrGridFull)
}

func TestSubmitPhoto_StorageFailureReleasesClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.objects.err = errors.New("bucket unreachable")

	_, err := f.submit(ctx, 7, f.admin)
	assert.ErrorIs(t, err, ErrStorageFailure)

	f.objects.err = nil
	result, err := f.submit(ctx, 7, f.admin)
	require.NoError(t, err)
	assert.Equal(t, 7, result.Photo.Position)
	assert.Equal(t, 1, result.FilledCount)
}

func TestSubmitPhoto_ReflectionFailureCommitsWithoutReflection(t *testing.T) {
	f := newFixture(t)
	f.gen.reflectErr = errors.New("vision model down")

	result, err := f.submit(context.Background(), 4, f.admin)
	require.NoError(t, err)
	assert.Nil(t, result.Photo.Reflection)
	assert.Equal(t, "Memory 4", result.Photo.Caption)
}

func TestSubmitPhoto_SurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.gen.onReflect = cancel

	result, err := f.submit(ctx, 5, f.admin)
	require.NoError(t, err)
	require.NotNil(t, result.Photo.Reflection)

	photos, err := f.store.ListPhotos(context.Background(), f.memorial.ID)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, 5, photos[0].Position)
}

func TestSubmitPhoto_OccupiedPositionKeepsExistingSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.grid.SubmitPhoto(ctx, f.memorial.ID, models.SubmitPhotoInput{
		Position:        3,
		Image:           testImage(3),
		Caption:         "first",
		ContributorName: "Sam",
	}, f.admin)
	require.NoError(t, err)
	puts := f.objects.putCount()

	_, err = f.grid.SubmitPhoto(ctx, f.memorial.ID, models.SubmitPhotoInput{
		Position:        3,
		Image:           testImage(99),
		Caption:         "second",
		ContributorName: "Alex",
	}, f.admin)
	assert.ErrorIs(t, err, ErrPositionConflict)
	assert.Equal(t, puts, f.objects.putCount())

	photos, err := f.grid.ListPhotos(ctx, f.memorial.ID, f.admin)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, first.Photo.ID, photos[0].ID)
	assert.Equal(t, "first", photos[0].Caption)
	assert.Equal(t, "Sam", photos[0].ContributorName)
	assert.Equal(t, first.Photo.ImageURL, photos[0].ImageURL)
}

func TestSubmitPhoto_MemorialDeletedMidSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.onReflect = func() {
		require.NoError(t, f.store.DeleteMemorial(context.Background(), f.memorial.ID))
	}

	_, err := f.submit(ctx, 6, f.admin)
	assert.ErrorIs(t, err, ErrMemorialNotFound)
	assert.NotErrorIs(t, err, ErrPositionConflict)
}

func TestSubmitPhoto_ReflectsOnTrimmedCaption(t *testing.T) {
	f := newFixture(t)

	result, err := f.grid.SubmitPhoto(context.Background(), f.memorial.ID, models.SubmitPhotoInput{
		Position: 2,
		Image:    testImage(2),
		Caption:  "  Picnic at the lake \n",
	}, f.admin)
	require.NoError(t, err)
	assert.Equal(t, "Picnic at the lake", result.Photo.Caption)
	require.NotNil(t, result.Photo.Reflection)
	assert.Equal(t, "A reflection on Picnic at the lake", *result.Photo.Reflection)
}

func TestRetrySummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.grid.RetrySummary(ctx, f.memorial.ID, f.admin)
	assert.ErrorIs(t, err, ErrGridIncomplete)

	contributor := models.Identity{UserID: "user-c", Email: "c@example.com"}
	f.join(t, contributor, models.RoleContributor)
	_, err = f.grid.RetrySummary(ctx, f.memorial.ID, contributor)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestRetrySummary_PendingRunIsRespectedUntilStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fill(t, 24)
	f.gen.failSummaries(errors.New("timeout"))
	_, err := f.submit(ctx, 24, f.admin)
	require.NoError(t, err)
	f.gen.failSummaries(nil)

	started, err := f.store.StartSummary(ctx, f.memorial.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, started)

	_, err = f.grid.RetrySummary(ctx, f.memorial.ID, f.admin)
	assert.ErrorIs(t, err, ErrSummaryInProgress)

	f.grid.now = func() time.Time { return time.Now().Add(time.Hour) }
	m, err := f.grid.RetrySummary(ctx, f.memorial.ID, f.admin)
	require.NoError(t, err)
	assert.True(t, m.IsComplete)
}

func TestReleaseStaleClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.ClaimPosition(ctx, f.memorial.ID, 12, "abandoned", f.admin.UserID))

	_, err := f.submit(ctx, 12, f.admin)
	assert.ErrorIs(t, err, ErrPositionConflict)

	n, err := f.grid.ReleaseStaleClaims(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh claims are kept")

	f.grid.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = f.grid.ReleaseStaleClaims(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = f.submit(ctx, 12, f.admin)
	assert.NoError(t, err)
}

func TestGridState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, p := range []int{2, 0, 17} {
		_, err := f.submit(ctx, p, f.admin)
		require.NoError(t, err)
	}

	state, err := f.grid.GridState(ctx, f.memorial.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, f.memorial.ID, state.Memorial.ID)
	require.Len(t, state.Photos, 3)
	assert.Equal(t, []int{0, 2, 17}, []int{state.Photos[0].Position, state.Photos[1].Position, state.Photos[2].Position})
	assert.Len(t, state.OpenPositions, models.GridSize-3)
	assert.NotContains(t, state.OpenPositions, 17)
	assert.Contains(t, state.OpenPositions, 1)

	stranger := models.Identity{UserID: "user-x", Email: "x@example.com"}
	_, err = f.grid.GridState(ctx, f.memorial.ID, stranger)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.grid.ListPhotos(ctx, "missing", f.admin)
	assert.ErrorIs(t, err, ErrMemorialNotFound)
}
