package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config represents the full application configuration surface.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Sync     SyncConfig
	WhatsApp WhatsAppConfig
	Sheets   SheetsConfig
	MongoDB  MongoDBConfig
	Redis    RedisConfig
	LogLevel string
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port string
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string
	URL    string
}

// SyncConfig holds the feed accrual scheduling options.
type SyncConfig struct {
	CronSchedule  string
	Timezone      string
	Concurrency   int
	ItemTimeout   time.Duration
	LowStockBags  float64
	LockTTL       time.Duration
	ReportTimeout time.Duration
}

// Location resolves the configured timezone.
func (s SyncConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", s.Timezone, err)
	}
	return loc, nil
}

// WhatsAppConfig contains credentials and options for the Meta WhatsApp Cloud API.
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string
	APIVersion    string
	ManagerID     string
}

// Enabled reports whether notifications can be sent.
func (c WhatsAppConfig) Enabled() bool {
	return c.AccessToken != "" && c.PhoneNumberID != ""
}

// SheetsConfig contains configuration required to interact with Google Sheets.
type SheetsConfig struct {
	CredentialsPath string
	SpreadsheetID   string
	ArchiveRange    string
}

// Enabled reports whether archived cycles are exported.
func (c SheetsConfig) Enabled() bool {
	return c.CredentialsPath != "" && c.SpreadsheetID != ""
}

// MongoDBConfig holds settings for MongoDB.
type MongoDBConfig struct {
	URI    string
	DBName string
}

// Enabled reports whether sync reports are archived.
func (c MongoDBConfig) Enabled() bool {
	return c.URI != ""
}

// RedisConfig holds settings for the scheduler lock.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether the scheduler takes a distributed lock.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Ignore the returned error here; missing .env files are acceptable when
		// configuration comes from the environment directly.
		_ = godotenv.Load()
	}

	concurrency, err := getenvInt("SYNC_CONCURRENCY", 8)
	if err != nil {
		return nil, err
	}
	itemTimeout, err := getenvDuration("SYNC_ITEM_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	lockTTL, err := getenvDuration("SYNC_LOCK_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	reportTimeout, err := getenvDuration("SYNC_REPORT_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, err
	}
	lowStock, err := getenvFloat("LOW_STOCK_BAGS", 5)
	if err != nil {
		return nil, err
	}
	redisDB, err := getenvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getenvWithDefault("APP_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Driver: getenvWithDefault("DB_DRIVER", DriverPostgres),
			URL:    os.Getenv("DATABASE_URL"),
		},
		Sync: SyncConfig{
			CronSchedule:  getenvWithDefault("FEED_SYNC_CRON", "5 0 * * *"),
			Timezone:      getenvWithDefault("TIMEZONE", "Africa/Conakry"),
			Concurrency:   concurrency,
			ItemTimeout:   itemTimeout,
			LowStockBags:  lowStock,
			LockTTL:       lockTTL,
			ReportTimeout: reportTimeout,
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:   os.Getenv("WHATSAPP_TOKEN"),
			PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
			BaseURL:       getenvWithDefault("WHATSAPP_BASE_URL", "https://graph.facebook.com"),
			APIVersion:    getenvWithDefault("WHATSAPP_API_VERSION", "v20.0"),
			ManagerID:     os.Getenv("WHATSAPP_MANAGER_ID"),
		},
		Sheets: SheetsConfig{
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			SpreadsheetID:   os.Getenv("GOOGLE_SHEET_DATABASE_ID"),
			ArchiveRange:    getenvWithDefault("GOOGLE_SHEET_ARCHIVE_RANGE", "Archive!A:K"),
		},
		MongoDB: MongoDBConfig{
			URI:    os.Getenv("MONGODB_URI"),
			DBName: getenvWithDefault("MONGODB_DB_NAME", "poultrydesk"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		LogLevel: getenvWithDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q", DriverPostgres, DriverSQLite)
	}
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL must be provided")
	}

	if c.Sync.CronSchedule == "" {
		return errors.New("FEED_SYNC_CRON must be provided")
	}
	if _, err := c.Sync.Location(); err != nil {
		return fmt.Errorf("TIMEZONE is invalid: %w", err)
	}
	if c.Sync.Concurrency < 1 {
		return errors.New("SYNC_CONCURRENCY must be at least 1")
	}
	if c.Sync.ItemTimeout <= 0 {
		return errors.New("SYNC_ITEM_TIMEOUT must be positive")
	}

	if c.WhatsApp.Enabled() && c.WhatsApp.ManagerID == "" {
		return errors.New("WHATSAPP_MANAGER_ID must be provided when WhatsApp is enabled")
	}

	if (c.Sheets.CredentialsPath == "") != (c.Sheets.SpreadsheetID == "") {
		return errors.New("GOOGLE_SHEETS_CREDENTIALS_PATH and GOOGLE_SHEET_DATABASE_ID must be set together")
	}

	if c.MongoDB.Enabled() && c.MongoDB.DBName == "" {
		return errors.New("MONGODB_DB_NAME must not be empty")
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
