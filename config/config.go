package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/linesmerrill/desktop-auth-api/models"
)

// Store backends for pending exchange codes
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
)

// Config holds the project config values
type Config struct {
	URL             string
	DatabaseName    string
	BaseURL         string
	Port            string
	Env             string
	CodeStore       string
	DesktopScheme   string
	DesktopAppName  string
	CodeTTL         time.Duration
	ConsumedGrace   time.Duration
	SweepSchedule   string
	JWTSecret       string
	DesktopTokenTTL time.Duration
	SessionCookie   string
	LoginURL        string
	DebugRoutes     bool
	RequestTimeout  time.Duration
}

// New sets up all config related services
func New() *Config {
	env := getEnv("ENV", "production")

	//setup zap logger and replace default logger
	logger, err := setLogger(env)
	if err != nil {
		logger = zap.NewExample()
	}
	defer logger.Sync()
	_ = zap.ReplaceGlobals(logger)

	return &Config{
		URL:             os.Getenv("DB_URI"),
		DatabaseName:    os.Getenv("DB_NAME"),
		BaseURL:         os.Getenv("BASE_URL"),
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CodeStore:       getEnv("CODE_STORE", StoreMemory),
		DesktopScheme:   getEnv("DESKTOP_SCHEME", "phishguard"),
		DesktopAppName:  getEnv("DESKTOP_APP_NAME", "PhishGuard Desktop"),
		CodeTTL:         getEnvDuration("CODE_TTL", 5*time.Minute),
		ConsumedGrace:   getEnvDuration("CONSUMED_GRACE", time.Second),
		SweepSchedule:   getEnv("SWEEP_SCHEDULE", "@every 10m"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		DesktopTokenTTL: getEnvDuration("DESKTOP_TOKEN_TTL", 24*time.Hour),
		SessionCookie:   getEnv("SESSION_COOKIE", "session"),
		LoginURL:        os.Getenv("LOGIN_URL"),
		DebugRoutes:     getEnvBool("DEBUG_ROUTES", false),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
	}
}

// Validate checks the values that the server cannot start without
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret is not set")
	}
	if c.DesktopScheme == "" {
		return fmt.Errorf("desktop scheme is not set")
	}
	if c.CodeTTL <= 0 {
		return fmt.Errorf("code ttl must be positive, got %v", c.CodeTTL)
	}
	switch c.CodeStore {
	case StoreMemory:
	case StoreMongo:
		if c.URL == "" || c.DatabaseName == "" {
			return fmt.Errorf("mongo code store requires DB_URI and DB_NAME")
		}
	default:
		return fmt.Errorf("unknown code store %q", c.CodeStore)
	}
	return nil
}

// ErrorStatus is a useful function that will log, write http headers and body for a
// give message, status code and err
func ErrorStatus(message string, httpStatusCode int, w http.ResponseWriter, err error) {
	zap.S().Errorw(message, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	b, _ := json.Marshal(models.ErrorMessageResponse{Response: fmt.Sprintf("%s, %v", message, err)})
	w.Write(b)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		zap.S().Warnw("ignoring invalid duration", "key", key, "value", v)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
