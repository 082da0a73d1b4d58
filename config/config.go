package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName     = "dairy-console"
	EnvFileName = "config.env"
)

// Store backends selectable with SESSION_STORE.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
func LoadEnvFile() {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// Config is the console host's runtime configuration.
type Config struct {
	APIBaseURL    string
	Env           string
	LogLevel      string
	MetricsAddr   string
	HTTPTimeout   time.Duration
	Session       SessionConfig
	RefreshURL    string
	RefreshLead   time.Duration
	RedirectDelay time.Duration
}

// SessionConfig selects where credentials are persisted.
type SessionConfig struct {
	Store     string
	Scope     string
	DBPath    string
	TokenKey  string
	RedisAddr string
}

// Load reads the configuration from the environment. Call LoadEnvFile first
// to pick up the config file.
func Load() *Config {
	return &Config{
		APIBaseURL:  getEnv("DAIRY_API_BASE_URL", "http://localhost:8080"),
		Env:         getEnv("DAIRY_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		HTTPTimeout: time.Duration(getEnvAsInt("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		Session: SessionConfig{
			Store:     strings.ToLower(getEnv("SESSION_STORE", StoreSQLite)),
			Scope:     getEnv("SESSION_SCOPE", "default"),
			DBPath:    getEnv("SESSION_DB_PATH", "sessions.db"),
			TokenKey:  os.Getenv("SESSION_TOKEN_KEY"),
			RedisAddr: getEnv("SESSION_REDIS_ADDR", "127.0.0.1:6379"),
		},
		RefreshURL:    os.Getenv("SESSION_REFRESH_URL"),
		RefreshLead:   time.Duration(getEnvAsInt("SESSION_REFRESH_LEAD_SECONDS", 60)) * time.Second,
		RedirectDelay: time.Duration(getEnvAsInt("SESSION_REDIRECT_DELAY_MS", 100)) * time.Millisecond,
	}
}

// IsProduction reports whether credential entries must be marked Secure.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Missing lists required variables that are unset for the chosen store.
func (c *Config) Missing() []string {
	var missing []string
	if c.Session.Store == StoreSQLite && c.Session.TokenKey == "" {
		missing = append(missing, "SESSION_TOKEN_KEY")
	}
	return missing
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
