package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisEventsChannel = "events"

type wireEvent struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Removed bool   `json:"removed,omitempty"`
	Origin  string `json:"origin"`
}

// RedisStorage keeps values under prefix+key and announces every write on
// the prefix+"events" channel inside the same MULTI block.
type RedisStorage struct {
	client   *redis.Client
	prefix   string
	origin   string
	maxValue int
}

func NewRedisStorage(client *redis.Client, prefix string, maxValue int) *RedisStorage {
	return &RedisStorage{
		client:   client,
		prefix:   prefix,
		origin:   uuid.NewString(),
		maxValue: maxValue,
	}
}

func (s *RedisStorage) channel() string { return s.prefix + redisEventsChannel }

func (s *RedisStorage) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return v, true, nil
}

func (s *RedisStorage) Set(ctx context.Context, key, value string) error {
	if quotaExceeded(s.maxValue, len(value)) {
		return ErrQuotaExceeded
	}

	msg, err := json.Marshal(wireEvent{Key: key, Value: value, Origin: s.origin})
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.prefix+key, value, 0)
		p.Publish(ctx, s.channel(), msg)
		return nil
	})
	if err != nil {
		if isRedisOOM(err) {
			return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStorage) Remove(ctx context.Context, key string) error {
	msg, err := json.Marshal(wireEvent{Key: key, Removed: true, Origin: s.origin})
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.prefix+key)
		p.Publish(ctx, s.channel(), msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStorage) Watch(ctx context.Context, key string, fn func(Event)) (func(), error) {
	sub := s.client.Subscribe(ctx, s.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	ch := sub.Channel()
	go func() {
		for m := range ch {
			var we wireEvent
			if err := json.Unmarshal([]byte(m.Payload), &we); err != nil {
				continue
			}
			if we.Key != key || we.Origin == s.origin {
				continue
			}
			fn(Event{Key: we.Key, NewValue: we.Value, Removed: we.Removed, Origin: we.Origin})
		}
	}()

	return stop, nil
}

func isRedisOOM(err error) bool {
	var re redis.Error
	return errors.As(err, &re) && strings.HasPrefix(re.Error(), "OOM")
}
