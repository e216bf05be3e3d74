package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"SweetHouse/internal/storage"
)

var (
	ErrMalformed     = errors.New("malformed catalog data")
	ErrWriteRejected = errors.New("storage write failed")
)

// Store persists the whole catalog as one JSON array under StorageKey.
type Store struct {
	kv      storage.Storage
	key     string
	log     *zap.Logger
	metrics *Metrics
}

func NewStore(kv storage.Storage, log *zap.Logger, metrics *Metrics) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{kv: kv, key: StorageKey, log: log, metrics: metrics}
}

func (s *Store) Key() string { return s.key }

func (s *Store) Ping(ctx context.Context) error { return s.kv.Ping(ctx) }

// Read never fails: an absent key or an unreadable value yields an empty
// catalog.
func (s *Store) Read(ctx context.Context) []Product {
	ps, err := s.Load(ctx)
	if err != nil {
		s.log.Warn("catalog read failed, using empty catalog", zap.Error(err))
		return []Product{}
	}
	return ps
}

// Load is the strict form of Read. An absent key is an empty catalog.
func (s *Store) Load(ctx context.Context) ([]Product, error) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Product{}, nil
	}
	return decodeSnapshot([]byte(raw))
}

// Raw returns the stored value verbatim.
func (s *Store) Raw(ctx context.Context) (string, bool, error) {
	return s.kv.Get(ctx, s.key)
}

func (s *Store) Write(ctx context.Context, products []Product) error {
	if products == nil {
		products = []Product{}
	}

	b, err := json.Marshal(products)
	if err != nil {
		s.metrics.writeFailed()
		return fmt.Errorf("%w: %w", ErrWriteRejected, err)
	}
	if err := s.kv.Set(ctx, s.key, string(b)); err != nil {
		s.metrics.writeFailed()
		s.log.Error("catalog write rejected", zap.Error(err), zap.Int("bytes", len(b)))
		return fmt.Errorf("%w: %w", ErrWriteRejected, err)
	}

	s.metrics.wrote(len(products))
	return nil
}

// SeedIfAbsent checks key presence, not emptiness: a catalog that was
// emptied on purpose stays empty.
func (s *Store) SeedIfAbsent(ctx context.Context, fallback []Product) (bool, error) {
	_, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := s.Write(ctx, fallback); err != nil {
		return false, err
	}
	s.log.Info("catalog seeded", zap.Int("products", len(fallback)), zap.String("key", s.key))
	return true, nil
}

func (s *Store) Clear(ctx context.Context) error {
	return s.kv.Remove(ctx, s.key)
}

func decodeSnapshot(raw []byte) ([]Product, error) {
	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if records == nil {
		return nil, fmt.Errorf("%w: not an array", ErrMalformed)
	}

	out := make([]Product, 0, len(records))
	for i, m := range records {
		if m == nil {
			return nil, fmt.Errorf("%w: item %d is not an object", ErrMalformed, i)
		}
		out = append(out, decodeRecord(m))
	}
	return out, nil
}
