package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/LovationAdmin/memorial-api/config"
	"github.com/LovationAdmin/memorial-api/handlers"
	"github.com/LovationAdmin/memorial-api/routes"
	"github.com/LovationAdmin/memorial-api/utils"
)

const serviceName = "memorial-api"

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "Memorial photo grid API",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var skipMigrations bool

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply database migrations on start")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background sweep",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one maintenance pass and exit",
	Long: `Run one maintenance pass: expire lapsed invitations, release abandoned
position claims and retry failed or stale tribute summaries.`,
	RunE: runSweep,
}

// setup loads configuration and initializes logging.
func setup(ctx context.Context) (config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	utils.InitLogger(cfg.LogLevel, cfg.Environment)
	if utils.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := setup(ctx)
	if err != nil {
		return err
	}

	cleanup, err := utils.InitTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = cleanup(shutdownCtx)
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.db != nil && !skipMigrations {
		if err := config.RunMigrations(ctx, a.db); err != nil {
			return err
		}
	}

	if err := a.sweeper.Start(ctx, cfg.SweepCron); err != nil {
		return err
	}
	defer a.sweeper.Stop()

	router := routes.NewRouter(ctx, routes.RouterOptions{
		Handler:            handlers.NewHandler(a.memorials, a.grid, a.collaborators, cfg.MaxUploadBytes),
		WS:                 a.ws,
		JWTSecret:          cfg.JWTSecret,
		AllowedOrigins:     append([]string{cfg.FrontendURL}, cfg.CORSAllowedOrigins...),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Version:            version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.LogStartup(serviceName, version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}

	db, err := config.InitDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := config.RunMigrations(ctx, db); err != nil {
		return err
	}
	log.Info().Msg("migrations applied")
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.sweeper.Sweep(ctx)
	if encErr := json.NewEncoder(cmd.OutOrStdout()).Encode(result); encErr != nil {
		return encErr
	}
	return err
}
