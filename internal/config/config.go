// Package config содержит логику чтения конфигурации бота.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	validator "gopkg.in/go-playground/validator.v9"

	"github.com/mmeshcher/scambi-bot/internal/model"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации бота.
type Config struct {
	BotToken    string `env:"BOT_TOKEN" validate:"required"`
	APIEndpoint string `env:"TELEGRAM_API_ENDPOINT"`
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	GroupID        int64 `env:"GROUP_ID"`
	OwnerID        int64 `env:"OWNER_ID"`
	AdminID        int64 `env:"ADMIN_ID"`
	EvidenceChatID int64 `env:"EVIDENCE_CHAT_ID"`

	PointsThreshold      int           `env:"POINTS_THRESHOLD" envDefault:"6" validate:"min=2"`
	GiftAffectsPoints    bool          `env:"GIFT_AFFECTS_POINTS"`
	DurableConfirmations bool          `env:"DURABLE_CONFIRMATIONS"`
	ConfirmationTTL      time.Duration `env:"CONFIRMATION_TTL" envDefault:"24h" validate:"gt=0"`

	APISecret string `env:"API_SECRET"`

	// IssueTokenFor задаётся только флагом: вывести токен API для пользователя и выйти.
	IssueTokenFor int64
}

// Seed возвращает значения состояния приложения, заданные конфигурацией.
func (c *Config) Seed() model.AppState {
	return model.AppState{
		GroupID: c.GroupID,
		OwnerID: c.OwnerID,
		AdminID: c.AdminID,
	}
}

// Parse считывает конфигурацию из .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.Int64Var(&cfg.IssueTokenFor, "issue-token", 0, "print an API token for the given admin id and exit")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
