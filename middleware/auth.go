package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/LovationAdmin/memorial-api/models"
)

const identityKey = "identity"

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims are the bearer token claims issued by the auth provider. The
// subject is the user id.
type Claims struct {
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	PlatformOwner bool   `json:"platform_owner,omitempty"`
	jwt.RegisteredClaims
}

// ParseToken validates an HS256 token and returns the caller identity.
func ParseToken(tokenString, secret string) (models.Identity, error) {
	if tokenString == "" {
		return models.Identity{}, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, ErrExpiredToken
		}
		return models.Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return models.Identity{}, ErrInvalidToken
	}

	return models.Identity{
		UserID:        claims.Subject,
		Email:         strings.ToLower(claims.Email),
		Name:          claims.Name,
		PlatformOwner: claims.PlatformOwner,
	}, nil
}

// IssueToken signs a token for identity. Used by tests and local tooling;
// production tokens come from the auth provider.
func IssueToken(identity models.Identity, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:         identity.Email,
		Name:          identity.Name,
		PlatformOwner: identity.PlatformOwner,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	// Browsers cannot set headers on websocket upgrades.
	return c.Query("token")
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the caller identity on the context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := ParseToken(extractToken(c), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// GetIdentity returns the authenticated caller, or the zero Identity.
func GetIdentity(c *gin.Context) models.Identity {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(models.Identity); ok {
			return identity
		}
	}
	return models.Identity{}
}

func GetUserID(c *gin.Context) string {
	return GetIdentity(c).UserID
}
