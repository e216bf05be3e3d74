package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

type Config struct {
	Driver       string        `env:"DRIVER" envDefault:"memory"`
	QuotaBytes   int           `env:"QUOTA_BYTES" envDefault:"5242880"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPrefix  string        `env:"REDIS_PREFIX" envDefault:"sweethouse:"`
	PostgresDSN  string        `env:"POSTGRES_DSN"`
	BoltPath     string        `env:"BOLT_PATH" envDefault:"sweethouse.db"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
}

// Backend bundles an opened session with its cross-session channel.
// Watcher is never nil: backends without push notifications fall back to
// polling.
type Backend struct {
	Storage Storage
	Watcher Watcher
	Close   func() error
}

// Open connects the configured driver. log may be nil.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (*Backend, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		s := NewMemArea(cfg.QuotaBytes).Session()
		return &Backend{Storage: s, Watcher: s, Close: func() error { return nil }}, nil

	case DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		s := NewRedisStorage(client, cfg.RedisPrefix, cfg.QuotaBytes)
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		return &Backend{Storage: s, Watcher: s, Close: client.Close}, nil

	case DriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("storage: postgres driver requires a DSN")
		}
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		s := NewPostgresStorage(db, cfg.PostgresDSN, cfg.QuotaBytes, log)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return &Backend{Storage: s, Watcher: s, Close: db.Close}, nil

	case DriverBolt:
		s, err := OpenBolt(cfg.BoltPath, cfg.QuotaBytes)
		if err != nil {
			return nil, err
		}
		return &Backend{Storage: s, Watcher: NewPollWatcher(s, cfg.PollInterval), Close: s.Close}, nil

	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
