package storefront

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"SweetHouse/internal/admin"
	"SweetHouse/internal/cart"
	"SweetHouse/internal/catalog"
	"SweetHouse/internal/config"
	"SweetHouse/internal/storage"
	"SweetHouse/pkg/kit"
)

const Service = "storefront"

// App is one storefront context: a storage session plus the catalog
// editor and reader built on it.
type App struct {
	Handler http.Handler
	Store   *catalog.Store
	Editor  *catalog.Editor
	Reader  *catalog.Reader
	Carts   *cart.Registry

	cfg     *config.Config
	log     *zap.Logger
	backend *storage.Backend
	sched   *cron.Cron
}

// New opens storage, seeds the catalog when the key is absent and wires
// the HTTP surface. reg may be nil to skip metrics.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, reg *prometheus.Registry) (*App, error) {
	backend, err := storage.Open(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	var metrics *catalog.Metrics
	if reg != nil {
		metrics = catalog.NewMetrics(reg)
	}

	store := catalog.NewStore(backend.Storage, log, metrics)
	if cfg.Catalog.Seed {
		if _, err := store.SeedIfAbsent(ctx, catalog.DefaultSeed(time.Now())); err != nil {
			log.Warn("catalog seed failed", zap.Error(err))
		}
	}

	notifier := catalog.NewNotifier(log, metrics)
	editor := catalog.NewEditor(ctx, store, notifier, log)
	reader := catalog.NewReader(ctx, store, notifier, backend.Watcher, log)

	gate, err := admin.NewGate(backend.Storage, cfg.Admin.Password, cfg.Admin.Enable, log)
	if err != nil {
		reader.Close()
		_ = backend.Close()
		return nil, fmt.Errorf("admin gate: %w", err)
	}

	carts := cart.NewRegistry(cfg.Cart.IdleTimeout, log)

	sched := cron.New()
	if _, err := sched.AddFunc("@every "+cfg.Cart.SweepInterval.String(), func() { carts.Sweep() }); err != nil {
		reader.Close()
		_ = backend.Close()
		return nil, fmt.Errorf("schedule cart sweep: %w", err)
	}

	h := NewHandler(Deps{
		Catalog: &catalog.Server{Reader: reader, Editor: editor, Log: log},
		Carts:   &cart.Server{Carts: carts, Catalog: reader, Validator: kit.NewValidator(), Log: log},
		Admin: &admin.Server{
			Gate:          gate,
			Tokens:        admin.NewTokenMaker(cfg.Admin.TokenSecret, cfg.Admin.TokenTTL),
			Log:           log,
			AllowLoopback: cfg.Admin.AllowLoopback,
		},
	}, HTTPDeps{
		Log:            log,
		Service:        Service,
		Registry:       reg,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsToken:   cfg.Metrics.Token,
	})

	return &App{
		Handler: h,
		Store:   store,
		Editor:  editor,
		Reader:  reader,
		Carts:   carts,
		cfg:     cfg,
		log:     log,
		backend: backend,
		sched:   sched,
	}, nil
}

// Run serves HTTP and runs scheduled jobs until ctx is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return kit.RunHTTPServer(gctx, a.cfg.Server.Addr(), a.Handler, a.log)
	})
	g.Go(func() error {
		a.sched.Start()
		<-gctx.Done()
		<-a.sched.Stop().Done()
		return nil
	})

	return g.Wait()
}

func (a *App) Close() error {
	a.Reader.Close()
	return a.backend.Close()
}
