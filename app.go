package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/LovationAdmin/memorial-api/config"
	"github.com/LovationAdmin/memorial-api/handlers"
	"github.com/LovationAdmin/memorial-api/services"
)

// app holds the wired services for one process.
type app struct {
	cfg           config.Config
	db            *sql.DB
	memorials     *services.MemorialService
	grid          *services.GridService
	collaborators *services.CollaboratorService
	sweeper       *services.Sweeper
	ws            *handlers.WSHandler
	closers       []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newStore(ctx context.Context, cfg config.Config) (services.Store, *sql.DB, error) {
	switch strings.ToLower(cfg.StoreDriver) {
	case "memory":
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return services.NewMemoryStore(), nil, nil
	case "postgres", "":
		db, err := config.InitDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("database connected")
		return services.NewPostgresStore(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func newObjectStore(ctx context.Context, cfg config.Config) (services.ObjectStore, error) {
	switch strings.ToLower(cfg.StorageDriver) {
	case "memory":
		return services.NewMemoryObjectStore(), nil
	case "s3", "":
		return services.NewS3ObjectStore(ctx, services.S3Options{
			Endpoint:      cfg.S3.Endpoint,
			Region:        cfg.S3.Region,
			Bucket:        cfg.S3.Bucket,
			AccessKey:     cfg.S3.AccessKey,
			SecretKey:     cfg.S3.SecretKey,
			PublicBaseURL: cfg.S3.PublicBaseURL,
			UsePathStyle:  cfg.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
}

func newGenerator(ctx context.Context, cfg config.Config, objects services.ObjectStore) (services.Generator, error) {
	var gen services.Generator
	switch strings.ToLower(cfg.AIProvider) {
	case "claude", "":
		if cfg.AnthropicAPIKey == "" {
			log.Warn().Msg("ANTHROPIC_API_KEY not set, reflections and tributes are disabled")
			return services.UnavailableGenerator{}, nil
		}
		gen = services.NewClaudeAIService(cfg.AnthropicAPIKey, cfg.ClaudeModel)
	case "gemini":
		g, err := services.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, objects)
		if err != nil {
			return nil, err
		}
		gen = g
	case "none":
		return services.UnavailableGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown AI_PROVIDER %q", cfg.AIProvider)
	}
	return services.NewRateLimitedGenerator(gen, cfg.AIRateLimit, cfg.AIBurst), nil
}

func newMailer(cfg config.Config) services.Mailer {
	if cfg.ResendAPIKey == "" {
		log.Warn().Msg("RESEND_API_KEY not set, invitation emails are only logged")
		return services.LogMailer{FrontendURL: cfg.FrontendURL}
	}
	return services.NewResendMailer(cfg.ResendAPIKey, cfg.EmailFrom, cfg.FrontendURL)
}

// newApp wires every service from cfg.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	store, db, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.db = db
	if db != nil {
		a.closers = append(a.closers, func() {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Msg("close database")
			}
		})
	}

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	generator, err := newGenerator(ctx, cfg, objects)
	if err != nil {
		a.Close()
		return nil, err
	}

	notifiers := services.MultiNotifier{}
	if cfg.NATSURL != "" {
		nn, err := services.NewNATSNotifier(cfg.NATSURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, nn.Close)
		notifiers = append(notifiers, nn)
	}

	a.ws = handlers.NewWSHandler()
	notifiers = append(notifiers, a.ws)
	a.closers = append(a.closers, func() { _ = a.ws.Close() })

	mailer := newMailer(cfg)
	a.collaborators = services.NewCollaboratorService(store, mailer, notifiers, cfg.InvitationTTL)
	a.ws.Collaborators = a.collaborators

	a.memorials = services.NewMemorialService(store, a.collaborators, notifiers)
	a.grid = services.NewGridService(store, objects, generator, a.collaborators, notifiers, services.GridConfig{
		UploadTimeout:  cfg.UploadTimeout,
		ReflectTimeout: cfg.ReflectTimeout,
		SummaryTimeout: cfg.SummaryTimeout,
		ClaimTTL:       cfg.ClaimTTL,
	})
	a.sweeper = services.NewSweeper(a.grid, a.collaborators)
	return a, nil
}
