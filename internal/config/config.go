package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                int    `env:"PORT" envDefault:"8080"`
	DatabaseURL         string `env:"DATABASE_URL,required"`
	RedisURL            string `env:"REDIS_URL,required"`
	CodeTTLSeconds      int    `env:"PAIRING_CODE_TTL_SECONDS" envDefault:"300"`
	SubmitLimitPerMin   int    `env:"SUBMIT_LIMIT_PER_MINUTE" envDefault:"5"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) CodeTTL() time.Duration {
	return time.Duration(c.CodeTTLSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.CodeTTLSeconds < MinCodeTTLSeconds || c.CodeTTLSeconds > MaxCodeTTLSeconds {
		return fmt.Errorf("PAIRING_CODE_TTL_SECONDS must be between %d and %d", MinCodeTTLSeconds, MaxCodeTTLSeconds)
	}
	if c.SubmitLimitPerMin < 1 {
		return fmt.Errorf("SUBMIT_LIMIT_PER_MINUTE must be at least 1")
	}

	if isProduction {
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if !strings.Contains(c.DatabaseURL, "sslmode=require") {
			log.Warn().Msg("DATABASE_URL does not request sslmode=require in production")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
