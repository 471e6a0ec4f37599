package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LovationAdmin/memorial-api/models"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// testImage returns a distinct PNG-looking payload per seed.
func testImage(seed int) []byte {
	return append(append([]byte(nil), pngHeader...), []byte(fmt.Sprintf("image-%d", seed))...)
}

type fakeGenerator struct {
	mu           sync.Mutex
	reflectErr   error
	summaryErr   error
	onReflect    func()
	reflectCalls int
	summaryCalls int
	lastEntries  []models.MemoryEntry
}

func (g *fakeGenerator) Reflect(ctx context.Context, imageURL, caption string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reflectCalls++
	if g.onReflect != nil {
		g.onReflect()
	}
	if g.reflectErr != nil {
		return "", g.reflectErr
	}
	return "A reflection on " + caption, nil
}

func (g *fakeGenerator) Summarize(ctx context.Context, entries []models.MemoryEntry) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.summaryCalls++
	g.lastEntries = entries
	if g.summaryErr != nil {
		return "", g.summaryErr
	}
	return fmt.Sprintf("A tribute woven from %d memories.", len(entries)), nil
}

func (g *fakeGenerator) failSummaries(err error) {
	g.mu.Lock()
	g.summaryErr = err
	g.mu.Unlock()
}

func (g *fakeGenerator) summaries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.summaryCalls
}

// countingObjectStore wraps MemoryObjectStore and can be told to fail.
type countingObjectStore struct {
	*MemoryObjectStore
	mu   sync.Mutex
	puts int
	err  error
}

func (s *countingObjectStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	s.puts++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return s.MemoryObjectStore.Put(ctx, data, contentType)
}

func (s *countingObjectStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []InvitationEmail
}

func (m *recordingMailer) SendInvitation(ctx context.Context, email InvitationEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.GridEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, event models.GridEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, models.GridEvent) error {
	return errors.New("observer down")
}

type fixture struct {
	store         Store
	objects       *countingObjectStore
	gen           *fakeGenerator
	mailer        *recordingMailer
	events        *recordingNotifier
	collaborators *CollaboratorService
	memorials     *MemorialService
	grid          *GridService
	admin         models.Identity
	memorial      *models.Memorial
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, store Store) *fixture {
	t.Helper()
	f := &fixture{
		store:   store,
		objects: &countingObjectStore{MemoryObjectStore: NewMemoryObjectStore()},
		gen:     &fakeGenerator{},
		mailer:  &recordingMailer{},
		events:  &recordingNotifier{},
		admin:   models.Identity{UserID: "user-admin", Email: "admin@example.com", Name: "Ada"},
	}
	notifier := MultiNotifier{f.events, failingNotifier{}}
	f.collaborators = NewCollaboratorService(f.store, f.mailer, notifier, 0)
	f.memorials = NewMemorialService(f.store, f.collaborators, notifier)
	f.grid = NewGridService(f.store, f.objects, f.gen, f.collaborators, notifier, GridConfig{})

	m, err := f.memorials.CreateMemorial(context.Background(), models.CreateMemorialRequest{Name: "Grandma Rose"}, f.admin)
	require.NoError(t, err)
	f.memorial = m
	return f
}

// join invites identity with role and accepts the invitation.
func (f *fixture) join(t *testing.T, identity models.Identity, role models.Role) *models.Collaborator {
	t.Helper()
	ctx := context.Background()
	inv, err := f.collaborators.InviteCollaborator(ctx, f.memorial.ID, identity.Email, role, f.admin)
	require.NoError(t, err)
	c, err := f.collaborators.AcceptInvitation(ctx, inv.Token, identity)
	require.NoError(t, err)
	return c
}

func (f *fixture) submit(ctx context.Context, position int, actor models.Identity) (*models.SubmitResult, error) {
	return f.grid.SubmitPhoto(ctx, f.memorial.ID, models.SubmitPhotoInput{
		Position:        position,
		Image:           testImage(position),
		Caption:         fmt.Sprintf("Memory %d", position),
		ContributorName: "Sam",
		Relationship:    "grandchild",
	}, actor)
}

// fill commits every position except those listed.
func (f *fixture) fill(t *testing.T, except ...int) {
	t.Helper()
	skip := make(map[int]bool, len(except))
	for _, p := range except {
		skip[p] = true
	}
	for p := 0; p < models.GridSize; p++ {
		if skip[p] {
			continue
		}
		_, err := f.submit(context.Background(), p, f.admin)
		require.NoError(t, err)
	}
}
