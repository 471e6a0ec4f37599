// utils/safelog.go
// ============================================================================
// SAFE LOGGING - masks personal data in production
// ============================================================================

package utils

import (
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// IsProduction enables masking of emails and identifiers in log output.
var IsProduction = os.Getenv("GIN_MODE") == "release" ||
	os.Getenv("ENVIRONMENT") == "production"

var (
	emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	uuidRegex  = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	tokenRegex = regexp.MustCompile(`token=[A-Za-z0-9_-]+`)
)

// InitLogger configures the global zerolog logger. Development gets a
// console writer, production gets JSON on stderr.
func InitLogger(level, environment string) {
	IsProduction = IsProduction || environment == "production"

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(parseLevel(level))
	if IsProduction {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ============================================================================
// MASKING
// ============================================================================

// MaskString masks emails, invitation tokens and full UUIDs.
func MaskString(input string) string {
	if !IsProduction {
		return input
	}
	result := emailRegex.ReplaceAllString(input, "***@***.***")
	result = tokenRegex.ReplaceAllString(result, "token=***")
	return uuidRegex.ReplaceAllStringFunc(result, func(id string) string {
		return id[:8] + "..."
	})
}

// MaskID keeps the first 8 characters of an identifier.
func MaskID(id string) string {
	if !IsProduction {
		return id
	}
	if len(id) <= 8 {
		return "***"
	}
	return id[:8] + "..."
}

func MaskEmail(email string) string {
	if !IsProduction {
		return email
	}
	return "***@***.***"
}

// ============================================================================
// DOMAIN LOGGING
// ============================================================================

// LogMemorialAction logs an action on a memorial without exposing identifiers.
func LogMemorialAction(action, memorialID, userID string) {
	log.Info().
		Str("memorial", MaskID(memorialID)).
		Str("user", MaskID(userID)).
		Msgf("[Memorial] %s", action)
}

func LogInvitationAction(action, memorialID, email string) {
	log.Info().
		Str("memorial", MaskID(memorialID)).
		Str("email", MaskEmail(email)).
		Msgf("[Invitation] %s", action)
}

// LogAPIRequest logs a handled request. Paths are masked since they carry ids.
func LogAPIRequest(method, path, userID string, statusCode int, duration string) {
	evt := log.Info()
	if statusCode >= 500 {
		evt = log.Error()
	} else if statusCode >= 400 {
		evt = log.Warn()
	}
	evt.Str("method", method).
		Str("path", MaskString(path)).
		Str("user", MaskID(userID)).
		Int("status", statusCode).
		Str("duration", duration).
		Msg("[API]")
}

func LogWebSocket(action, memorialID, userID string) {
	log.Debug().
		Str("memorial", MaskID(memorialID)).
		Str("user", MaskID(userID)).
		Msgf("[WS] %s", action)
}

// LogStartup logs the startup banner.
func LogStartup(appName, version, port string) {
	mode := "development"
	if IsProduction {
		mode = "production"
	}
	log.Info().Str("mode", mode).Str("port", port).Str("version", version).Msgf("%s starting", appName)
	if IsProduction {
		log.Info().Msg("production mode: sensitive data will be masked in logs")
	}
}
