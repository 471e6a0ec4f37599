package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LovationAdmin/memorial-api/handlers"
	"github.com/LovationAdmin/memorial-api/middleware"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Handler            *handlers.Handler
	WS                 *handlers.WSHandler
	JWTSecret          string
	AllowedOrigins     []string
	RateLimitPerMinute int
	Version            string
}

// NewRouter builds the HTTP router. ctx bounds the background work of the
// middleware.
func NewRouter(ctx context.Context, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     opts.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.RequestLogger())
	router.Use(middleware.RateLimiter(ctx, opts.RateLimitPerMinute, time.Minute))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": opts.Version,
			"time":    time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	protected := v1.Group("/")
	protected.Use(middleware.AuthMiddleware(opts.JWTSecret))
	{
		SetupMemorialRoutes(protected, opts.Handler)
		SetupCollaboratorRoutes(protected, opts.Handler)
		if opts.WS != nil {
			SetupRealtimeRoutes(protected, opts.WS)
		}
	}

	return router
}
