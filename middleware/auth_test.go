package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LovationAdmin/memorial-api/models"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter() *gin.Engine {
	r := gin.New()
	r.GET("/me", AuthMiddleware(testSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, GetIdentity(c))
	})
	return r
}

func TestParseTokenRoundTrip(t *testing.T) {
	want := models.Identity{UserID: "user-1", Email: "ann@example.com", Name: "Ann", PlatformOwner: true}
	token, err := IssueToken(want, testSecret, time.Hour)
	require.NoError(t, err)

	got, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseTokenRejects(t *testing.T) {
	valid, err := IssueToken(models.Identity{UserID: "user-1"}, testSecret, time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(models.Identity{UserID: "user-1"}, testSecret, -time.Minute)
	require.NoError(t, err)
	noSubject, err := IssueToken(models.Identity{}, testSecret, time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"missing", "", ErrMissingToken},
		{"wrong secret", valid + "x", ErrInvalidToken},
		{"expired", expired, ErrExpiredToken},
		{"no subject", noSubject, ErrInvalidToken},
		{"alg none", none, ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseToken(tc.token, testSecret)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	r := newAuthRouter()
	token, err := IssueToken(models.Identity{UserID: "user-1", Email: "Ann@Example.com"}, testSecret, time.Hour)
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"user_id":"user-1"`)
		assert.Contains(t, w.Body.String(), `"email":"ann@example.com"`)
	})

	t.Run("query token", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+token, nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
