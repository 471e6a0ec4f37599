package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LovationAdmin/memorial-api/handlers"
	"github.com/LovationAdmin/memorial-api/middleware"
	"github.com/LovationAdmin/memorial-api/models"
	"github.com/LovationAdmin/memorial-api/services"
)

const testSecret = "router-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type echoGenerator struct{}

func (echoGenerator) Reflect(_ context.Context, _, caption string) (string, error) {
	return "Remembering " + caption, nil
}

func (echoGenerator) Summarize(_ context.Context, entries []models.MemoryEntry) (string, error) {
	return fmt.Sprintf("A tribute of %d memories.", len(entries)), nil
}

type testAPI struct {
	router *gin.Engine
	ws     *handlers.WSHandler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := services.NewMemoryStore()
	ws := handlers.NewWSHandler()
	t.Cleanup(func() { _ = ws.Close() })

	collaborators := services.NewCollaboratorService(store, services.LogMailer{}, ws, 0)
	ws.Collaborators = collaborators
	memorials := services.NewMemorialService(store, collaborators, ws)
	grid := services.NewGridService(store, services.NewMemoryObjectStore(), echoGenerator{}, collaborators, ws, services.GridConfig{})

	router := NewRouter(ctx, RouterOptions{
		Handler:            handlers.NewHandler(memorials, grid, collaborators, 1024),
		WS:                 ws,
		JWTSecret:          testSecret,
		AllowedOrigins:     []string{"http://localhost:3000"},
		RateLimitPerMinute: 10000,
		Version:            "test",
	})
	return &testAPI{router: router, ws: ws}
}

func token(t *testing.T, identity models.Identity) string {
	t.Helper()
	tok, err := middleware.IssueToken(identity, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path string, identity *models.Identity, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if identity != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *identity))
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, path string, identity models.Identity, position int, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("position", fmt.Sprint(position)))
	require.NoError(t, mw.WriteField("caption", fmt.Sprintf("Memory %d", position)))
	require.NoError(t, mw.WriteField("contributor_name", "Sam"))
	require.NoError(t, mw.WriteField("relationship", "nephew"))
	fw, err := mw.CreateFormFile("image", "photo.png")
	require.NoError(t, err)
	_, err = fw.Write(image)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(t, identity))
	return req
}

func (a *testAPI) upload(t *testing.T, memorialID string, identity models.Identity, position int, image []byte) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, uploadRequest(t, "/api/v1/memorials/"+memorialID+"/photos", identity, position, image))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func image(seed int) []byte {
	return append(append([]byte(nil), pngHeader...), []byte(fmt.Sprintf("photo-%d", seed))...)
}

var admin = models.Identity{UserID: "user-admin", Email: "admin@example.com", Name: "Ada"}

func (a *testAPI) createMemorial(t *testing.T) models.Memorial {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/memorials", &admin, models.CreateMemorialRequest{Name: "Grandpa Joe"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Memorial](t, w)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test", decode[map[string]any](t, w)["version"])
}

func TestRequiresAuthentication(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/api/v1/memorials", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMemorialLifecycle(t *testing.T) {
	a := newTestAPI(t)
	m := a.createMemorial(t)

	w := a.do(t, http.MethodGet, "/api/v1/memorials", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Memorials []models.Memorial `json:"memorials"`
	}](t, w)
	require.Len(t, list.Memorials, 1)
	assert.Equal(t, m.ID, list.Memorials[0].ID)

	w = a.do(t, http.MethodPut, "/api/v1/memorials/"+m.ID, &admin, map[string]any{"name": "Joseph"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Joseph", decode[models.Memorial](t, w).Name)

	stranger := models.Identity{UserID: "user-s", Email: "s@example.com"}
	w = a.do(t, http.MethodGet, "/api/v1/memorials/"+m.ID, &stranger, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/memorials/does-not-exist", &admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodDelete, "/api/v1/memorials/"+m.ID, &admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = a.do(t, http.MethodGet, "/api/v1/memorials/"+m.ID, &admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitPhoto(t *testing.T) {
	a := newTestAPI(t)
	m := a.createMemorial(t)

	w := a.upload(t, m.ID, admin, 3, image(3))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode[struct {
		Photo       models.PhotoSlot `json:"photo"`
		FilledCount int              `json:"filled_count"`
		IsComplete  bool             `json:"is_complete"`
	}](t, w)
	assert.Equal(t, 3, body.Photo.Position)
	assert.Equal(t, 1, body.FilledCount)
	assert.False(t, body.IsComplete)
	require.NotNil(t, body.Photo.Reflection)
	assert.Equal(t, "Remembering Memory 3", *body.Photo.Reflection)

	w = a.upload(t, m.ID, admin, 3, image(4))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.upload(t, m.ID, admin, 25, image(5))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.upload(t, m.ID, admin, 5, []byte("plain text, not a photo"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.upload(t, m.ID, admin, 6, append(image(6), bytes.Repeat([]byte{0}, 2048)...))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/memorials/"+m.ID+"/grid", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	state := decode[models.GridState](t, w)
	assert.Len(t, state.Photos, 1)
	assert.Len(t, state.OpenPositions, models.GridSize-1)
}

func TestFillingTheGridCompletesMemorial(t *testing.T) {
	a := newTestAPI(t)
	m := a.createMemorial(t)

	for p := 0; p < models.GridSize-1; p++ {
		w := a.upload(t, m.ID, admin, p, image(p))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	w := a.upload(t, m.ID, admin, models.GridSize-1, image(100))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	assert.Equal(t, true, body["is_complete"])
	assert.Equal(t, "A tribute of 25 memories.", body["summary"])

	w = a.upload(t, m.ID, admin, 0, image(101))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodPost, "/api/v1/memorials/"+m.ID+"/summary/retry", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.Memorial](t, w).IsComplete)
}

func TestInvitationFlow(t *testing.T) {
	a := newTestAPI(t)
	m := a.createMemorial(t)
	invitee := models.Identity{UserID: "user-a", Email: "a@example.com"}

	w := a.do(t, http.MethodPost, "/api/v1/memorials/"+m.ID+"/invitations", &admin, models.InvitationRequest{Email: "a@example.com", Role: "viewer"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	inv := decode[models.PendingInvitation](t, w)
	require.NotEmpty(t, inv.Token)

	w = a.do(t, http.MethodPost, "/api/v1/invitations/accept", &invitee, models.AcceptInvitationRequest{Token: inv.Token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	c := decode[models.Collaborator](t, w)
	assert.True(t, c.InvitationAccepted)
	assert.Equal(t, models.RoleViewer, c.Role)

	w = a.do(t, http.MethodPost, "/api/v1/invitations/accept", &invitee, models.AcceptInvitationRequest{Token: inv.Token})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Viewers see the grid but cannot add to it.
	w = a.do(t, http.MethodGet, "/api/v1/memorials/"+m.ID+"/photos", &invitee, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = a.upload(t, m.ID, invitee, 0, image(0))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPut, "/api/v1/memorials/"+m.ID+"/collaborators/"+c.ID+"/role", &admin, models.SetRoleRequest{Role: "contributor"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.upload(t, m.ID, invitee, 0, image(0))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/memorials/"+m.ID+"/collaborators", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Collaborators []models.Collaborator `json:"collaborators"`
	}](t, w)
	assert.Len(t, list.Collaborators, 2)
	assert.NotContains(t, w.Body.String(), "token_hash")

	w = a.do(t, http.MethodDelete, "/api/v1/memorials/"+m.ID+"/collaborators/"+c.ID, &admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLastAdminCannotLeave(t *testing.T) {
	a := newTestAPI(t)
	m := a.createMemorial(t)

	w := a.do(t, http.MethodGet, "/api/v1/memorials/"+m.ID+"/collaborators", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Collaborators []models.Collaborator `json:"collaborators"`
	}](t, w)
	require.Len(t, list.Collaborators, 1)

	before := w.Body.String()

	w = a.do(t, http.MethodDelete, "/api/v1/memorials/"+m.ID+"/collaborators/"+list.Collaborators[0].ID, &admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = a.do(t, http.MethodPut, "/api/v1/memorials/"+m.ID+"/collaborators/"+list.Collaborators[0].ID+"/role", &admin, gin.H{"role": "viewer"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/memorials/"+m.ID+"/collaborators", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, before, w.Body.String())
}

func TestWebsocketReceivesGridEvents(t *testing.T) {
	a := newTestAPI(t)
	m := a.createMemorial(t)
	srv := httptest.NewServer(a.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/memorials/" + m.ID + "?token=" + token(t, admin)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return a.ws.M.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	w := a.upload(t, m.ID, admin, 8, image(8))
	require.Equal(t, http.StatusCreated, w.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var event models.GridEvent
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, models.EventPhotoCommitted, event.Type)
	assert.Equal(t, m.ID, event.MemorialID)
	require.NotNil(t, event.Position)
	assert.Equal(t, 8, *event.Position)

	stranger := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/memorials/" + m.ID + "?token=" + token(t, models.Identity{UserID: "user-s", Email: "s@example.com"})
	_, resp, err := websocket.DefaultDialer.Dial(stranger, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
