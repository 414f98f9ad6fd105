package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Images   ImagesConfig
	Browser  BrowserConfig
	Batch    BatchConfig
	Server   ServerConfig
	Jobs     JobsConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Relay    RelayConfig
	Logging  LoggingConfig
}

type ImagesConfig struct {
	Selector     string
	ParentDir    string
	UserAgent    string
	MaxThreads   int
	UseAltJSON   bool
	AltJSONPath  string
	WaitTimeout  time.Duration
	FetchTimeout time.Duration
	ProfilesFile string
}

type BrowserConfig struct {
	Engine         string
	Headless       bool
	Timeout        time.Duration
	BinPath        string
	NoSandbox      bool
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type BatchConfig struct {
	Jobs         int
	RateLimitMin time.Duration
	RateLimitMax time.Duration
	StateFile    string
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type JobsConfig struct {
	Workers int
}

// DatabaseConfig is optional; an empty Host disables session history.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

// RedisConfig is optional; an empty Addr disables the outbox relay.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	Stream        string
	RequestStream string
	ConsumerGroup string
	ConsumerName  string
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	StreamMaxLen int64
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Images: ImagesConfig{
			Selector:     getEnvOrDefault("IMAGES_SELECTOR", ".product-gallery__media-list img"),
			ParentDir:    getEnvOrDefault("IMAGES_PARENT_DIR", "images"),
			UserAgent:    getEnvOrDefault("IMAGES_USER_AGENT", "ScrapImageBot/1.0"),
			MaxThreads:   getIntOrDefault("IMAGES_MAX_THREADS", 4),
			UseAltJSON:   getBoolOrDefault("IMAGES_USE_ALT_JSON", true),
			AltJSONPath:  getEnvOrDefault("IMAGES_ALT_JSON_PATH", "product_sentences.json"),
			WaitTimeout:  getDurationOrDefault("IMAGES_WAIT_TIMEOUT", 10*time.Second),
			FetchTimeout: getDurationOrDefault("IMAGES_FETCH_TIMEOUT", 10*time.Second),
			ProfilesFile: getEnvOrDefault("IMAGES_PROFILES_FILE", "profiles.yaml"),
		},
		Browser: BrowserConfig{
			Engine:         getEnvOrDefault("BROWSER_ENGINE", "playwright"),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			BinPath:        getEnvOrDefault("BROWSER_BIN", ""),
			NoSandbox:      getBoolOrDefault("BROWSER_NO_SANDBOX", true),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "fr-FR,fr;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Paris"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "fr-FR"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Batch: BatchConfig{
			Jobs:         getIntOrDefault("BATCH_JOBS", 1),
			RateLimitMin: getDurationOrDefault("BATCH_RATE_LIMIT_MIN", 2*time.Second),
			RateLimitMax: getDurationOrDefault("BATCH_RATE_LIMIT_MAX", 5*time.Second),
			StateFile:    getEnvOrDefault("BATCH_STATE_FILE", "image_batch_state.json"),
		},
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://localhost:*"}),
		},
		Jobs: JobsConfig{
			Workers: getIntOrDefault("JOBS_WORKERS", 2),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", ""),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "product_images"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:          getEnvOrDefault("REDIS_ADDR", ""),
			Password:      getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:            getIntOrDefault("REDIS_DB", 0),
			Stream:        getEnvOrDefault("REDIS_STREAM", "stream:image_sessions"),
			RequestStream: getEnvOrDefault("REDIS_REQUEST_STREAM", "stream:image_requests"),
			ConsumerGroup: getEnvOrDefault("REDIS_CONSUMER_GROUP", "image-scraper"),
			ConsumerName:  getEnvOrDefault("REDIS_CONSUMER_NAME", "image-scraper-1"),
		},
		Relay: RelayConfig{
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
			StreamMaxLen: int64(getIntOrDefault("RELAY_STREAM_MAXLEN", 100000)),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Images.MaxThreads < 1 {
		return fmt.Errorf("IMAGES_MAX_THREADS must be at least 1")
	}

	if c.Images.Selector == "" {
		return fmt.Errorf("IMAGES_SELECTOR cannot be empty")
	}

	switch c.Browser.Engine {
	case "playwright", "rod", "static":
	default:
		return fmt.Errorf("BROWSER_ENGINE must be one of playwright, rod, static (got %q)", c.Browser.Engine)
	}

	if c.Batch.Jobs < 1 {
		return fmt.Errorf("BATCH_JOBS must be at least 1")
	}

	if c.Batch.RateLimitMin > c.Batch.RateLimitMax {
		return fmt.Errorf("BATCH_RATE_LIMIT_MIN cannot be greater than BATCH_RATE_LIMIT_MAX")
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("JOBS_WORKERS must be at least 1")
	}

	if c.Relay.BatchSize < 1 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be at least 1")
	}

	if c.Relay.StreamMaxLen < 0 {
		return fmt.Errorf("RELAY_STREAM_MAXLEN cannot be negative")
	}

	return nil
}

// DatabaseEnabled reports whether session history should be stored.
func (c *Config) DatabaseEnabled() bool {
	return c.Database.Host != ""
}

func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
