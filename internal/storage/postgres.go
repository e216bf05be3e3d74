package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	pingTimeout  = 1 * time.Second
	queryTimeout = 3 * time.Second

	pgEventsChannel = "kv_events"

	pgDiskFull      = "53100"
	pgProgramLimit  = "54000"
	pgOutOfMemory   = "53200"
	listenRetryWait = 500 * time.Millisecond
	listenMaxWait   = 30 * time.Second
)

const pgSchema = `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// PostgresStorage stores values in the kv table. Every write sends a
// NOTIFY on kv_events in the same transaction; the payload only names the
// key because NOTIFY payloads are capped at 8000 bytes.
type PostgresStorage struct {
	db       *sql.DB
	dsn      string
	origin   string
	maxValue int
	log      *zap.Logger
	dial     func(ctx context.Context) (listenConn, error)
}

// listenConn is the part of *pgx.Conn the watcher needs.
type listenConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	IsClosed() bool
	Close(ctx context.Context) error
}

func NewPostgresStorage(db *sql.DB, dsn string, maxValue int, log *zap.Logger) *PostgresStorage {
	if log == nil {
		log = zap.NewNop()
	}
	s := &PostgresStorage{
		db:       db,
		dsn:      dsn,
		origin:   uuid.NewString(),
		maxValue: maxValue,
		log:      log,
	}
	s.dial = s.dialListener
	return s
}

func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	return withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, pgSchema)
		return err
	})
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	err := withTimeout(ctx, pingTimeout, func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT value
			FROM kv
			WHERE key = $1
		`, key).Scan(&v)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return v, true, nil
}

func (s *PostgresStorage) Set(ctx context.Context, key, value string) error {
	if quotaExceeded(s.maxValue, len(value)) {
		return ErrQuotaExceeded
	}

	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE
			SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		`, key, value)
		if err != nil {
			return err
		}
		return s.notify(ctx, tx, wireEvent{Key: key, Origin: s.origin})
	})
	return s.classify(err)
}

func (s *PostgresStorage) Remove(ctx context.Context, key string) error {
	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = $1`, key)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return s.notify(ctx, tx, wireEvent{Key: key, Removed: true, Origin: s.origin})
	})
	return s.classify(err)
}

func (s *PostgresStorage) notify(ctx context.Context, tx *sql.Tx, ev wireEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, pgEventsChannel, string(payload))
	return err
}

func (s *PostgresStorage) inTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(ctx, tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (s *PostgresStorage) classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgDiskFull, pgProgramLimit, pgOutOfMemory:
			return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Watch holds a dedicated connection LISTENing on kv_events. The value is
// re-read from the table before the callback runs.
func (s *PostgresStorage) Watch(ctx context.Context, key string, fn func(Event)) (func(), error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	lctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		s.listen(lctx, conn, key, fn)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

func (s *PostgresStorage) dialListener(ctx context.Context) (listenConn, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgEventsChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}
	return conn, nil
}

// listen runs until ctx ends. When the connection drops it is dialed again
// with backoff, and a resync event is sent because notifications raised
// while disconnected are lost.
func (s *PostgresStorage) listen(ctx context.Context, conn listenConn, key string, fn func(Event)) {
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if !conn.IsClosed() {
				if !sleepCtx(ctx, listenRetryWait) {
					return
				}
				continue
			}

			s.log.Warn("postgres listener lost, reconnecting", zap.Error(err))
			_ = conn.Close(context.Background())
			if conn = s.reconnect(ctx); conn == nil {
				return
			}
			s.log.Info("postgres listener reconnected")
			fn(Event{Key: key})
			continue
		}

		var we wireEvent
		if err := json.Unmarshal([]byte(n.Payload), &we); err != nil {
			continue
		}
		if we.Key != key || we.Origin == s.origin {
			continue
		}

		ev := Event{Key: we.Key, Removed: we.Removed, Origin: we.Origin}
		if !we.Removed {
			v, ok, err := s.Get(ctx, key)
			if err == nil {
				ev.NewValue, ev.Removed = v, !ok
			}
		}
		fn(ev)
	}
}

// reconnect returns nil only when ctx ends.
func (s *PostgresStorage) reconnect(ctx context.Context) listenConn {
	wait := listenRetryWait
	for {
		if !sleepCtx(ctx, wait) {
			return nil
		}
		conn, err := s.dial(ctx)
		if err == nil {
			return conn
		}
		wait = min(wait*2, listenMaxWait)
		s.log.Warn("postgres listener reconnect failed", zap.Error(err), zap.Duration("retry_in", wait))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func withTimeout(parent context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()
	return fn(ctx)
}
