package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Payout        PayoutConfig        `mapstructure:"payout"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Rise          RiseConfig          `mapstructure:"rise"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

// PayoutConfig controls eligibility and batch construction.
type PayoutConfig struct {
	MinPayoutCents  int64  `mapstructure:"min_payout_cents"`
	Currency        string `mapstructure:"currency"`
	DefaultProvider string `mapstructure:"default_provider"`
}

// RetryConfig drives per-transaction retry during batch execution.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

type RiseConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	WebhookSecret  string        `mapstructure:"webhook_secret"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ----------------- ENV LOADING -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds a Config from environment variables only,
// used for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Payout: PayoutConfig{
			MinPayoutCents:  int64(getEnvAsInt("PAYOUT_MIN_CENTS", 5000)),
			Currency:        getEnv("PAYOUT_CURRENCY", "USD"),
			DefaultProvider: getEnv("PAYOUT_PROVIDER", "rise"),
		},
		Retry: RetryConfig{
			MaxAttempts:  getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			InitialDelay: getEnvAsDuration("RETRY_INITIAL_DELAY", time.Second),
			Multiplier:   2,
			MaxDelay:     getEnvAsDuration("RETRY_MAX_DELAY", 30*time.Second),
		},
		Rise: RiseConfig{
			BaseURL:        getEnv("RISE_BASE_URL", "https://api.rise.works"),
			APIKey:         getEnv("RISE_API_KEY", ""),
			APISecret:      getEnv("RISE_API_SECRET", ""),
			WebhookSecret:  getEnv("RISE_WEBHOOK_SECRET", ""),
			RequestTimeout: getEnvAsDuration("RISE_REQUEST_TIMEOUT", 30*time.Second),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Payout.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payout config: %v", err))
	}

	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("retry config: %v", err))
	}

	if err := c.Rise.Validate(c.Payout.DefaultProvider); err != nil {
		errs = append(errs, fmt.Sprintf("rise config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *PayoutConfig) Validate() error {
	if c.MinPayoutCents <= 0 {
		return errors.New("min_payout_cents must be positive")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter code, got %q", c.Currency)
	}
	switch c.DefaultProvider {
	case "rise", "mock":
		return nil
	default:
		return fmt.Errorf("unknown default_provider %q", c.DefaultProvider)
	}
}

func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}
	if c.Multiplier < 1 {
		return errors.New("multiplier must be at least 1")
	}
	if c.MaxDelay < c.InitialDelay {
		return errors.New("max_delay must be >= initial_delay")
	}
	return nil
}

// Validate only insists on credentials when rise is the active provider,
// so local development against the mock needs no secrets.
func (c *RiseConfig) Validate(activeProvider string) error {
	if activeProvider != "rise" {
		return nil
	}
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if c.APIKey == "" || c.APISecret == "" {
		return errors.New("api_key and api_secret are required")
	}
	if c.WebhookSecret == "" {
		return errors.New("webhook_secret is required")
	}
	return nil
}
