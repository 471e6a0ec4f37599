package config

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the memorial API.
type Config struct {
	Port               string   `env:"PORT,default=8080"`
	Environment        string   `env:"ENVIRONMENT,default=development"`
	LogLevel           string   `env:"LOG_LEVEL,default=INFO"`
	DatabaseURL        string   `env:"DATABASE_URL"`
	JWTSecret          string   `env:"JWT_SECRET,required"`
	FrontendURL        string   `env:"FRONTEND_URL,default=http://localhost:3000"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:3000"`

	StoreDriver   string `env:"STORE_DRIVER,default=postgres"`
	StorageDriver string `env:"STORAGE_DRIVER,default=s3"`
	S3            S3Config

	AIProvider      string  `env:"AI_PROVIDER,default=claude"`
	AnthropicAPIKey string  `env:"ANTHROPIC_API_KEY"`
	ClaudeModel     string  `env:"CLAUDE_MODEL,default=claude-3-haiku-20240307"`
	GeminiAPIKey    string  `env:"GEMINI_API_KEY"`
	GeminiModel     string  `env:"GEMINI_MODEL,default=gemini-2.0-flash"`
	AIRateLimit     float64 `env:"AI_RATE_LIMIT,default=2"`
	AIBurst         int     `env:"AI_BURST,default=4"`

	UploadTimeout  time.Duration `env:"UPLOAD_TIMEOUT,default=30s"`
	ReflectTimeout time.Duration `env:"REFLECT_TIMEOUT,default=30s"`
	SummaryTimeout time.Duration `env:"SUMMARY_TIMEOUT,default=90s"`
	InvitationTTL  time.Duration `env:"INVITATION_TTL,default=168h"`
	ClaimTTL       time.Duration `env:"CLAIM_TTL,default=10m"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES,default=10485760"`

	ResendAPIKey string `env:"RESEND_API_KEY"`
	EmailFrom    string `env:"EMAIL_FROM,default=Memorials <noreply@memorials.app>"`

	NATSURL            string `env:"NATS_URL"`
	OTLPEndpoint       string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE,default=100"`
	SweepCron          string `env:"SWEEP_CRON,default=*/5 * * * *"`
}

// S3Config configures the S3 compatible object store.
type S3Config struct {
	Endpoint      string `env:"S3_ENDPOINT"`
	Region        string `env:"S3_REGION,default=us-east-1"`
	Bucket        string `env:"S3_BUCKET"`
	AccessKey     string `env:"S3_ACCESS_KEY"`
	SecretKey     string `env:"S3_SECRET_KEY"`
	PublicBaseURL string `env:"S3_PUBLIC_BASE_URL"`
	UsePathStyle  bool   `env:"S3_USE_PATH_STYLE,default=false"`
}

// Load reads an optional .env file and returns a Config populated from
// environment variables.
func Load(ctx context.Context) (Config, error) {
	_ = godotenv.Load()
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom populates a Config from the given lookuper.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// A position claim must outlive the upload and reflection of the photo
// holding it.
func (c Config) validate() error {
	if work := c.UploadTimeout + c.ReflectTimeout; c.ClaimTTL <= work {
		return fmt.Errorf("CLAIM_TTL (%s) must exceed UPLOAD_TIMEOUT + REFLECT_TIMEOUT (%s)", c.ClaimTTL, work)
	}
	return nil
}
