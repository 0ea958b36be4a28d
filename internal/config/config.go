package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultHTTPAddr              = ":8099"
	defaultDBPath                = "/data/lab_console.db"
	defaultFrontendDist          = "/app/frontend/dist"
	defaultBookingAPIBase        = "http://127.0.0.1:5000"
	defaultReservationsURL       = "http://127.0.0.1:5000/reservations"
	defaultAlertSoundURL         = "https://assets.mixkit.co/sfx/preview/mixkit-alarm-digital-clock-beep-989.mp3"
	defaultBookingPollInterval   = 10 * time.Second
	defaultConsoleResyncInterval = 60 * time.Second
	defaultAlertAckTimeout       = 30 * time.Second
	defaultWindowAttachGrace     = 10 * time.Second
)

// Config stores runtime settings loaded from environment variables.
type Config struct {
	HTTPAddr              string
	DBPath                string
	FrontendDist          string
	BookingAPIBase        string
	ReservationsURL       string
	AlertSoundURL         string
	AllowedOrigins        []string
	BookingPollInterval   time.Duration
	ConsoleResyncInterval time.Duration
	AlertAckTimeout       time.Duration
	WindowAttachGrace     time.Duration
	LogLevel              slog.Level
}

// Load builds Config from environment variables using stable defaults.
func Load() Config {
	return Config{
		HTTPAddr:              getenv("HTTP_ADDR", defaultHTTPAddr),
		DBPath:                getenv("DB_PATH", defaultDBPath),
		FrontendDist:          getenv("FRONTEND_DIST", defaultFrontendDist),
		BookingAPIBase:        strings.TrimSuffix(getenv("BOOKING_API_BASE", defaultBookingAPIBase), "/"),
		ReservationsURL:       getenv("RESERVATIONS_URL", defaultReservationsURL),
		AlertSoundURL:         getenv("ALERT_SOUND_URL", defaultAlertSoundURL),
		AllowedOrigins:        splitList(getenv("ALLOWED_ORIGINS", "*")),
		BookingPollInterval:   parseDuration("BOOKING_POLL_INTERVAL", defaultBookingPollInterval),
		ConsoleResyncInterval: parseDuration("CONSOLE_RESYNC_INTERVAL", defaultConsoleResyncInterval),
		AlertAckTimeout:       parseDuration("ALERT_ACK_TIMEOUT", defaultAlertAckTimeout),
		WindowAttachGrace:     parseDuration("WINDOW_ATTACH_GRACE", defaultWindowAttachGrace),
		LogLevel:              parseLogLevel(getenv("LOG_LEVEL", "info")),
	}
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
