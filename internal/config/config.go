package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultMaxRequestsPerDay is the daily quota applied when
// MAX_REQUESTS_PER_DAY is not set.
const DefaultMaxRequestsPerDay = 30

// Config holds the application configuration.
type Config struct {
	AppEnv            string
	Debug             bool
	Version           string
	BotToken          string
	AdminIDs          []int64
	MaxRequestsPerDay int
	AlphaVantageKey   string
	SentryDSN         string
	MongoDBURI        string
	MongoDBDatabase   string
	DefaultLanguage   string
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present but prioritizes
// actual environment variables set in the system (e.g., by Docker).
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (useful for development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	debug, _ := strconv.ParseBool(getEnv("DEBUG", "false"))

	adminIDs, err := parseAdminIDs(getEnv("ADMIN_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_IDS: %w", err)
	}

	maxRequests := DefaultMaxRequestsPerDay
	if raw := getEnv("MAX_REQUESTS_PER_DAY", ""); raw != "" {
		maxRequests, err = strconv.Atoi(raw)
		if err != nil || maxRequests <= 0 {
			return nil, fmt.Errorf("MAX_REQUESTS_PER_DAY must be a positive integer, got %q", raw)
		}
	}

	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Debug:             debug,
		Version:           getEnv("VERSION", "dev"),
		BotToken:          getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminIDs:          adminIDs,
		MaxRequestsPerDay: maxRequests,
		AlphaVantageKey:   getEnv("ALPHA_VANTAGE_KEY", ""),
		SentryDSN:         getEnv("SENTRY_DSN", ""),
		MongoDBURI:        getEnv("MONGODB_URI", ""),
		MongoDBDatabase:   getEnv("MONGODB_DATABASE", ""),
		DefaultLanguage:   getEnv("DEFAULT_LANGUAGE", "en"),
	}

	// Basic validation for essential variables
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if len(cfg.AdminIDs) == 0 {
		return nil, fmt.Errorf("ADMIN_IDS is required (comma-separated Telegram user IDs)")
	}
	if cfg.AlphaVantageKey == "" {
		return nil, fmt.Errorf("ALPHA_VANTAGE_KEY is required")
	}
	if cfg.SentryDSN == "" {
		log.Println("Warning: SENTRY_DSN is not set. Error tracking disabled.")
	}
	if cfg.MongoDBURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required")
	}
	if cfg.MongoDBDatabase == "" {
		return nil, fmt.Errorf("MONGODB_DATABASE is required")
	}

	return cfg, nil
}

// parseAdminIDs parses a comma-separated list of Telegram user IDs.
// Empty entries are skipped so trailing commas are harmless.
func parseAdminIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid admin ID %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
