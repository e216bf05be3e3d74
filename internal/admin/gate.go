package admin

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"SweetHouse/internal/storage"
)

const (
	FlagKey     = "sweethouse_admin_unlocked"
	unlockedVal = "1"
)

var ErrIncorrectPassword = errors.New("incorrect password")

// Gate is the admin unlock flag. It keeps the flag in the same storage as
// the catalog, so unlocking in one context unlocks every context sharing
// that storage.
type Gate struct {
	kv       storage.Storage
	hash     []byte
	override bool
	log      *zap.Logger
}

// NewGate hashes password once. With override set the admin surface is
// always available.
func NewGate(kv storage.Storage, password string, override bool, log *zap.Logger) (*Gate, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if password == "" {
		return nil, errors.New("admin password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &Gate{kv: kv, hash: hash, override: override, log: log}, nil
}

func (g *Gate) Unlock(ctx context.Context, password string) error {
	if bcrypt.CompareHashAndPassword(g.hash, []byte(password)) != nil {
		g.log.Warn("admin unlock refused")
		return ErrIncorrectPassword
	}
	if err := g.kv.Set(ctx, FlagKey, unlockedVal); err != nil {
		return err
	}
	g.log.Info("admin unlocked")
	return nil
}

func (g *Gate) Lock(ctx context.Context) error {
	if err := g.kv.Remove(ctx, FlagKey); err != nil {
		return err
	}
	g.log.Info("admin locked")
	return nil
}

func (g *Gate) Unlocked(ctx context.Context) (bool, error) {
	v, ok, err := g.kv.Get(ctx, FlagKey)
	if err != nil {
		return false, err
	}
	return ok && v == unlockedVal, nil
}

func (g *Gate) Overridden() bool { return g.override }

// Available reports whether admin pages may be shown. A storage error
// counts as locked.
func (g *Gate) Available(ctx context.Context) bool {
	if g.override {
		return true
	}
	ok, err := g.Unlocked(ctx)
	if err != nil {
		g.log.Warn("admin flag read failed", zap.Error(err))
		return false
	}
	return ok
}
