package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LovationAdmin/memorial-api/models"
)

func intPtr(v int) *int { return &v }

func TestCreateMemorial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "Grandma Rose", f.memorial.Name)
	assert.Equal(t, models.SummaryNone, f.memorial.SummaryStatus)
	assert.False(t, f.memorial.IsComplete)

	rows, err := f.store.ListCollaborators(ctx, f.memorial.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsAcceptedAdmin())
	assert.Equal(t, f.admin.UserID, *rows[0].UserID)

	_, err = f.memorials.CreateMemorial(ctx, models.CreateMemorialRequest{Name: "  "}, f.admin)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.memorials.CreateMemorial(ctx, models.CreateMemorialRequest{
		Name:   "Backwards",
		Banner: models.Banner{BirthYear: intPtr(2000), DeathYear: intPtr(1990)},
	}, f.admin)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.memorials.CreateMemorial(ctx, models.CreateMemorialRequest{Name: "Nobody"}, models.Identity{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestListMemorials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := models.Identity{UserID: "user-other", Email: "other@example.com"}
	_, err := f.memorials.CreateMemorial(ctx, models.CreateMemorialRequest{Name: "Uncle Tom"}, other)
	require.NoError(t, err)

	mine, err := f.memorials.ListMemorials(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.memorial.ID, mine[0].ID)

	none, err := f.memorials.ListMemorials(ctx, models.Identity{UserID: "user-new"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	all, err := f.memorials.ListMemorials(ctx, models.Identity{UserID: "user-owner", PlatformOwner: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateMemorial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	name := "Rose Marie"

	m, err := f.memorials.UpdateMemorial(ctx, f.memorial.ID, models.UpdateMemorialRequest{
		Name:   &name,
		Banner: &models.Banner{BirthYear: intPtr(1931), DeathYear: intPtr(2024)},
	}, f.admin)
	require.NoError(t, err)
	assert.Equal(t, "Rose Marie", m.Name)
	assert.Equal(t, 1931, *m.Banner.BirthYear)
	assert.Contains(t, f.events.types(), models.EventMemorialUpdated)

	viewer := models.Identity{UserID: "user-v", Email: "v@example.com"}
	f.join(t, viewer, models.RoleViewer)
	_, err = f.memorials.UpdateMemorial(ctx, f.memorial.ID, models.UpdateMemorialRequest{Name: &name}, viewer)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	got, err := f.memorials.GetMemorial(ctx, f.memorial.ID, viewer)
	require.NoError(t, err)
	assert.Equal(t, "Rose Marie", got.Name)

	blank := " "
	_, err = f.memorials.UpdateMemorial(ctx, f.memorial.ID, models.UpdateMemorialRequest{Name: &blank}, f.admin)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeleteMemorial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.submit(ctx, 0, f.admin)
	require.NoError(t, err)

	contributor := models.Identity{UserID: "user-c", Email: "c@example.com"}
	f.join(t, contributor, models.RoleContributor)
	assert.ErrorIs(t, f.memorials.DeleteMemorial(ctx, f.memorial.ID, contributor), ErrPermissionDenied)

	require.NoError(t, f.memorials.DeleteMemorial(ctx, f.memorial.ID, f.admin))
	_, err = f.memorials.GetMemorial(ctx, f.memorial.ID, f.admin)
	assert.ErrorIs(t, err, ErrMemorialNotFound)
	assert.Contains(t, f.events.types(), models.EventMemorialDeleted)
}
