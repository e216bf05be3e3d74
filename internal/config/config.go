package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"

	"SweetHouse/internal/storage"
)

const minTokenSecret = 32

type Config struct {
	Server  ServerConfig   `envPrefix:"SERVER_"`
	Storage storage.Config `envPrefix:"STORAGE_"`
	Admin   AdminConfig    `envPrefix:"ADMIN_"`
	Catalog CatalogConfig  `envPrefix:"CATALOG_"`
	Cart    CartConfig     `envPrefix:"CART_"`
	Metrics MetricsConfig  `envPrefix:"METRICS_"`
	Log     LogConfig      `envPrefix:"LOG_"`
}

type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	Host string `env:"HOST" envDefault:"0.0.0.0"`
}

func (c ServerConfig) Addr() string { return c.Host + ":" + c.Port }

type AdminConfig struct {
	Password      string        `env:"PASSWORD" envDefault:"admin123"`
	Enable        bool          `env:"ENABLE" envDefault:"false"`
	AllowLoopback bool          `env:"ALLOW_LOOPBACK" envDefault:"false"`
	TokenSecret   string        `env:"TOKEN_SECRET"`
	TokenTTL      time.Duration `env:"TOKEN_TTL" envDefault:"12h"`
}

type CatalogConfig struct {
	Seed bool `env:"SEED" envDefault:"true"`
}

type CartConfig struct {
	IdleTimeout   time.Duration `env:"IDLE_TIMEOUT" envDefault:"24h"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`
}

type MetricsConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"`
	Token   string `env:"TOKEN"`
}

type LogConfig struct {
	File string `env:"FILE"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Admin.TokenSecret) < minTokenSecret {
		return errors.New("ADMIN_TOKEN_SECRET is required and must be at least 32 chars")
	}
	if c.Admin.Password == "" {
		return errors.New("ADMIN_PASSWORD must not be empty")
	}
	if c.Cart.SweepInterval <= 0 {
		return errors.New("CART_SWEEP_INTERVAL must be positive")
	}
	return nil
}
