package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr      string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath        string     `env:"DB_PATH" envDefault:"data/coderelay.db"`
	LogLevel      slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	SecureCookies bool       `env:"SECURE_COOKIES" envDefault:"false"`

	SessionSecret string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"12h"`
	AdminPassword string        `env:"ADMIN_PASSWORD" envDefault:"changeme"`

	ProblemsFile    string        `env:"PROBLEMS_FILE" envDefault:"problems.yaml"`
	ExecutorURL     string        `env:"EXECUTOR_URL" envDefault:"https://emkc.org/api/v2/piston/execute"`
	ExecutorTimeout time.Duration `env:"EXECUTOR_TIMEOUT" envDefault:"15s"`
	ExecutorRPS     float64       `env:"EXECUTOR_RPS" envDefault:"4"`

	// RedisURL is optional. When empty, login throttling is disabled.
	RedisURL         string        `env:"REDIS_URL"`
	LoginMaxAttempts int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"10"`
	LoginWindow      time.Duration `env:"LOGIN_WINDOW" envDefault:"1m"`

	FeedInterval        time.Duration `env:"FEED_INTERVAL" envDefault:"1s"`
	DefaultRelayMinutes int           `env:"DEFAULT_RELAY_MINUTES" envDefault:"10"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.DefaultRelayMinutes < 1 {
		return nil, fmt.Errorf("DEFAULT_RELAY_MINUTES must be at least 1, got %d", cfg.DefaultRelayMinutes)
	}
	return &cfg, nil
}
