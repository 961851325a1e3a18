package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	BotModePolling = "polling"
	BotModeWebhook = "webhook"
)

type Config struct {
	// Telegram
	BotToken      string `env:"BOT_TOKEN"`
	BotMode       string `env:"BOT_MODE" envDefault:"polling"`
	WebhookURL    string `env:"WEBHOOK_URL"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	BotWorkers    int    `env:"BOT_WORKERS" envDefault:"8"`

	// Database
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"trivia"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" envDefault:"trivia_db"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// Security
	JWTSecret string `env:"JWT_SECRET_KEY"`

	// Application
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Rate Limiting
	RateLimitPerUser int `env:"RATE_LIMIT_PER_USER" envDefault:"20"`

	// Game
	QuestionsPerGame       int    `env:"QUESTIONS_PER_GAME" envDefault:"10"`
	QuestionTimeoutSeconds int    `env:"QUESTION_TIMEOUT_SECONDS" envDefault:"30"`
	IntermissionMillis     int    `env:"INTERMISSION_MILLIS" envDefault:"2500"`
	ContributeURL          string `env:"CONTRIBUTE_URL" envDefault:"https://github.com/OpenSUTD/sutd-trivia-bot"`

	// Locking
	LockLeaseSeconds int `env:"LOCK_LEASE_SECONDS" envDefault:"10"`
	LockRetryMillis  int `env:"LOCK_RETRY_MILLIS" envDefault:"250"`
	LockWaitSeconds  int `env:"LOCK_WAIT_SECONDS" envDefault:"10"`
}

func LoadConfig() (*Config, error) {
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse reads the environment without validating it. Tools that only need
// the database settings use it.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if c.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters")
	}
	switch c.BotMode {
	case BotModePolling:
	case BotModeWebhook:
		if c.WebhookURL == "" {
			return fmt.Errorf("WEBHOOK_URL is required in webhook mode")
		}
		if c.WebhookSecret == "" {
			return fmt.Errorf("WEBHOOK_SECRET is required in webhook mode")
		}
	default:
		return fmt.Errorf("BOT_MODE must be %q or %q", BotModePolling, BotModeWebhook)
	}
	if c.QuestionsPerGame <= 0 {
		return fmt.Errorf("QUESTIONS_PER_GAME must be positive")
	}
	if c.QuestionTimeoutSeconds <= 0 {
		return fmt.Errorf("QUESTION_TIMEOUT_SECONDS must be positive")
	}
	if c.LockRetryMillis <= 0 || c.LockWaitSeconds <= 0 || c.LockLeaseSeconds <= 0 {
		return fmt.Errorf("LOCK_* settings must be positive")
	}
	return nil
}

func (c *Config) ValidateProductionSecurity() error {
	if c.AppEnv != "production" {
		return nil
	}

	if c.DBSSLMode != "require" {
		return fmt.Errorf("DB_SSLMODE must be 'require' in production")
	}
	if c.JWTSecret == "your_jwt_secret_minimum_32_chars_here_change_this" {
		return fmt.Errorf("JWT_SECRET_KEY must be changed from default in production")
	}
	if c.BotMode == BotModeWebhook && len(c.WebhookSecret) < 16 {
		return fmt.Errorf("WEBHOOK_SECRET must be at least 16 characters in production")
	}

	return nil
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

// GetPgURL is the connection string in URL form, as pgxpool expects it.
func (c *Config) GetPgURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

func (c *Config) GetQuestionTimeout() time.Duration {
	return time.Duration(c.QuestionTimeoutSeconds) * time.Second
}

func (c *Config) GetIntermission() time.Duration {
	return time.Duration(c.IntermissionMillis) * time.Millisecond
}

func (c *Config) GetLockLease() time.Duration {
	return time.Duration(c.LockLeaseSeconds) * time.Second
}

func (c *Config) GetLockRetry() time.Duration {
	return time.Duration(c.LockRetryMillis) * time.Millisecond
}

func (c *Config) GetLockWait() time.Duration {
	return time.Duration(c.LockWaitSeconds) * time.Second
}
