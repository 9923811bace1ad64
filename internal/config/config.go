package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

type Config struct {
	Port         string
	SQLiteDBPath string
	LogLevel     string

	// Auth
	JWTSecret            string
	AccessTokenTTL       time.Duration
	AdminUsername        string
	AdminPassword        string
	CORSOrigins          []string
	TrustedProxies       []string
	RateLimitPerMinute   int
	MaxImportSizeBytes   int64
	StatsCacheTTL        time.Duration
	StatsCacheMaxEntries int

	// Backup
	BackupEnabled    bool
	BackupDir        string
	BackupPrefix     string
	BackupRetainDays int
	BackupHour       int
	BackupMinute     int
	BackupTimezone   string

	// Off-site copy of backups, disabled when the bucket is empty
	BackupGCSBucket       string
	BackupGCSPrefix       string
	GoogleCredentialsFile string

	// AMQP events, disabled when the URL is empty
	AMQPURL          string
	AMQPExchangeName string
	AMQPQueueName    string
}

// Load reads configuration from environment variables, falling back to
// defaults for anything unset or unparsable.
func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8000"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/incomes.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		JWTSecret:            getEnv("JWT_SECRET", "change-me-in-production"),
		AccessTokenTTL:       getEnvDuration("ACCESS_TOKEN_TTL", 8*time.Hour),
		AdminUsername:        getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:        getEnv("ADMIN_PASSWORD", "admin123"),
		CORSOrigins:          getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),
		TrustedProxies:       getEnvList("TRUSTED_PROXIES", nil),
		RateLimitPerMinute:   getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		MaxImportSizeBytes:   int64(getEnvInt("MAX_IMPORT_SIZE_BYTES", 10<<20)),
		StatsCacheTTL:        getEnvDuration("STATS_CACHE_TTL", time.Minute),
		StatsCacheMaxEntries: getEnvInt("STATS_CACHE_MAX_ENTRIES", 256),

		BackupEnabled:    getEnvBool("BACKUP_ENABLED", true),
		BackupDir:        getEnv("BACKUP_DIR", "./backups"),
		BackupPrefix:     getEnv("BACKUP_PREFIX", "incomes"),
		BackupRetainDays: getEnvInt("BACKUP_RETAIN_DAYS", 7),
		BackupHour:       getEnvInt("BACKUP_HOUR", 2),
		BackupMinute:     getEnvInt("BACKUP_MINUTE", 0),
		BackupTimezone:   getEnv("BACKUP_TIMEZONE", "Asia/Shanghai"),

		BackupGCSBucket:       getEnv("BACKUP_GCS_BUCKET", ""),
		BackupGCSPrefix:       getEnv("BACKUP_GCS_PREFIX", "incomes/"),
		GoogleCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		AMQPURL:          getEnv("AMQP_URL", ""),
		AMQPExchangeName: getEnv("AMQP_EXCHANGE", "incomes_exchange"),
		AMQPQueueName:    getEnv("AMQP_QUEUE", "incomes_events"),
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
		}
	}

	if c.JWTSecret == "" {
		errors = append(errors, "JWT secret cannot be empty")
	}
	if c.AccessTokenTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid access token TTL %v: must be positive", c.AccessTokenTTL))
	}
	if c.AdminUsername == "" {
		errors = append(errors, "admin username cannot be empty")
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}
	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: cannot be negative", c.RateLimitPerMinute))
	}
	if c.MaxImportSizeBytes <= 0 {
		errors = append(errors, fmt.Sprintf("invalid max import size %d: must be positive", c.MaxImportSizeBytes))
	}

	if c.BackupEnabled {
		if c.BackupDir == "" {
			errors = append(errors, "backup directory cannot be empty when backups are enabled")
		}
		if c.BackupRetainDays < 1 {
			errors = append(errors, fmt.Sprintf("invalid backup retention %d: must be at least 1 day", c.BackupRetainDays))
		}
		if c.BackupHour < 0 || c.BackupHour > 23 {
			errors = append(errors, fmt.Sprintf("invalid backup hour %d: must be between 0 and 23", c.BackupHour))
		}
		if c.BackupMinute < 0 || c.BackupMinute > 59 {
			errors = append(errors, fmt.Sprintf("invalid backup minute %d: must be between 0 and 59", c.BackupMinute))
		}
		if _, err := time.LoadLocation(c.BackupTimezone); err != nil {
			errors = append(errors, fmt.Sprintf("invalid backup time zone '%s': %v", c.BackupTimezone, err))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchangeName == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueueName == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ScheduleLocation returns the backup time zone, or UTC when it cannot be loaded.
func (c *Config) ScheduleLocation() *time.Location {
	loc, err := time.LoadLocation(c.BackupTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
