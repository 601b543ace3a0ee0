// Package config содержит логику чтения конфигурации трекера целей.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/goaltracker/internal/validation"
)

// Config содержит параметры конфигурации трекера целей.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	// StorageDir задаёт каталог файлового хранилища, используется без DatabaseURI.
	StorageDir string `env:"STORAGE_DIR"`

	AuthSecret string `env:"AUTH_SECRET"`
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"http://localhost:3000"`

	StartingBalance           decimal.Decimal `env:"STARTING_BALANCE" envDefault:"100"`
	StreakTimezone            string          `env:"STREAK_TIMEZONE" envDefault:"America/New_York"`
	MediumCancelRefundPercent int             `env:"MEDIUM_CANCEL_REFUND_PERCENT" envDefault:"100"`
	PaymentSuccessRate        float64         `env:"PAYMENT_SUCCESS_RATE" envDefault:"0.9"`
	// DeadlineSweepInterval включает фоновую отмену просроченных задач, 0 её выключает.
	DeadlineSweepInterval time.Duration `env:"DEADLINE_SWEEP_INTERVAL" envDefault:"0s"`

	Coach      CoachConfig `envPrefix:"COACH_"`
	GroqAPIKey string      `env:"GROQ_API_KEY"`

	// Location содержит загруженный StreakTimezone.
	Location *time.Location `env:"-"`
}

// CoachConfig содержит параметры клиента коуча.
type CoachConfig struct {
	APIKey  string        `env:"API_KEY"`
	BaseURL string        `env:"BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	Model   string        `env:"MODEL" envDefault:"llama3-8b-8192"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения, в том числе из файла .env, имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envStorageDir := cfg.StorageDir

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.StorageDir, "s", "data", "file storage directory, used without database URI")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envStorageDir != "" {
		cfg.StorageDir = envStorageDir
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = "data"
	}
	if cfg.Coach.APIKey == "" {
		cfg.Coach.APIKey = cfg.GroqAPIKey
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	loc, err := time.LoadLocation(c.StreakTimezone)
	if err != nil {
		return fmt.Errorf("invalid STREAK_TIMEZONE %q: %w", c.StreakTimezone, err)
	}
	c.Location = loc

	if c.MediumCancelRefundPercent < 0 || c.MediumCancelRefundPercent > 100 {
		return fmt.Errorf("MEDIUM_CANCEL_REFUND_PERCENT must be within 0..100, got %d", c.MediumCancelRefundPercent)
	}
	if c.PaymentSuccessRate < 0 || c.PaymentSuccessRate > 1 {
		return fmt.Errorf("PAYMENT_SUCCESS_RATE must be within 0..1, got %v", c.PaymentSuccessRate)
	}
	if c.StartingBalance.IsNegative() {
		return fmt.Errorf("STARTING_BALANCE must not be negative, got %s", c.StartingBalance)
	}
	if c.StartingBalance.GreaterThan(validation.MaxAmount) {
		return fmt.Errorf("STARTING_BALANCE must not exceed %s, got %s", validation.MaxAmount, c.StartingBalance)
	}
	if c.DeadlineSweepInterval < 0 {
		return fmt.Errorf("DEADLINE_SWEEP_INTERVAL must not be negative, got %s", c.DeadlineSweepInterval)
	}
	if c.Coach.Timeout <= 0 {
		return fmt.Errorf("COACH_TIMEOUT must be positive, got %s", c.Coach.Timeout)
	}

	return nil
}
