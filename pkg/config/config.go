package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Application settings
type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	ETL      ETLConfig
	Meta     MetaConfig
	Database DatabaseConfig
	Notify   NotifyConfig
	Archive  ArchiveConfig
}

// Server settings
type ServerConfig struct {
	Port string
}

type ETLConfig struct {
	Schedule        string
	RunOnStart      bool
	DatePreset      string
	AccountCooldown time.Duration
	WorkerPoolSize  int
	NotifyOnSuccess bool
	TaxonomyFile    string
}

type MetaConfig struct {
	AccessToken        string
	AdAccountIDs       []string
	GraphURL           string
	APIVersion         string
	IGAccountID        string
	RequestTimeout     time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	RateLimitPerSecond int
	PageLimit          int
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	ConnectTimeout  time.Duration
	BootstrapSchema bool
	InsightsTable   string
	FollowersTable  string
}

type NotifyConfig struct {
	DiscordWebhookURL string
	DiscordUsername   string
}

// Object storage for raw payload archives. Disabled when Endpoint is empty.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// Logging settings
type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		ETL: ETLConfig{
			Schedule:        getEnv("SCHEDULE", "@every 4h"),
			RunOnStart:      getBoolEnv("RUN_ON_START", true),
			DatePreset:      getEnv("DATE_PRESET", "last_90d"),
			AccountCooldown: getDurationEnv("ACCOUNT_COOLDOWN", "5s"),
			WorkerPoolSize:  getIntEnv("WORKER_POOL_SIZE", 4),
			NotifyOnSuccess: getBoolEnv("NOTIFY_ON_SUCCESS", false),
			TaxonomyFile:    getEnv("ACTION_TAXONOMY_FILE", ""),
		},
		Meta: MetaConfig{
			AccessToken:        getEnv("META_ACCESS_TOKEN", ""),
			AdAccountIDs:       getListEnv("META_AD_ACCOUNT_IDS"),
			GraphURL:           getEnv("META_GRAPH_URL", "https://graph.facebook.com"),
			APIVersion:         getEnv("META_API_VERSION", "v21.0"),
			IGAccountID:        getEnv("IG_ACCOUNT_ID", ""),
			RequestTimeout:     getDurationEnv("REQUEST_TIMEOUT", "60s"),
			MaxRetries:         getIntEnv("MAX_RETRIES", 3),
			RetryBackoff:       getDurationEnv("RETRY_BACKOFF", "2s"),
			RateLimitPerSecond: getIntEnv("RATE_LIMIT_PER_SECOND", 5),
			PageLimit:          getIntEnv("PAGE_LIMIT", 500),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("STORAGE_DRIVER", "postgres"),
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "haproxy"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", ""),
			Password:        getEnv("DB_PASS", ""),
			Name:            getEnv("DB_NAME", ""),
			ConnectTimeout:  getDurationEnv("DB_CONNECT_TIMEOUT", "10s"),
			BootstrapSchema: getBoolEnv("DB_BOOTSTRAP_SCHEMA", false),
			InsightsTable:   getEnv("INSIGHTS_TABLE", "insights_meta_ads"),
			FollowersTable:  getEnv("FOLLOWERS_TABLE", "instagram_crescimento"),
		},
		Notify: NotifyConfig{
			DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
			DiscordUsername:   getEnv("DISCORD_USERNAME", "ETL Bot - Vetorial"),
		},
		Archive: ArchiveConfig{
			Endpoint:  getEnv("ARCHIVE_ENDPOINT", ""),
			AccessKey: getEnv("ARCHIVE_ACCESS_KEY", ""),
			SecretKey: getEnv("ARCHIVE_SECRET_KEY", ""),
			Bucket:    getEnv("ARCHIVE_BUCKET", "meta-insights-raw"),
			UseSSL:    getBoolEnv("ARCHIVE_USE_SSL", false),
			Region:    getEnv("ARCHIVE_REGION", ""),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Meta.AccessToken == "" {
		errs = append(errs, errors.New("META_ACCESS_TOKEN is required"))
	}
	if len(c.Meta.AdAccountIDs) == 0 {
		errs = append(errs, errors.New("META_AD_ACCOUNT_IDS is required"))
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" && (c.Database.User == "" || c.Database.Name == "") {
			errs = append(errs, errors.New("DATABASE_URL or DB_USER/DB_NAME is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Database.Driver))
	}

	if c.ETL.WorkerPoolSize < 1 {
		errs = append(errs, errors.New("WORKER_POOL_SIZE must be at least 1"))
	}
	if c.Meta.RateLimitPerSecond < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_SECOND must be at least 1"))
	}
	if c.Archive.Endpoint != "" && (c.Archive.AccessKey == "" || c.Archive.SecretKey == "") {
		errs = append(errs, errors.New("ARCHIVE_ACCESS_KEY and ARCHIVE_SECRET_KEY are required when ARCHIVE_ENDPOINT is set"))
	}

	return errors.Join(errs...)
}

// DSN builds the postgres connection string, preferring DATABASE_URL.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   d.Host + ":" + d.Port,
		Path:   "/" + d.Name,
	}
	q := u.Query()
	q.Set("connect_timeout", strconv.Itoa(int(d.ConnectTimeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

// comma separated, blanks dropped
func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
