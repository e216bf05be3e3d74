package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"SweetHouse/internal/config"
	"SweetHouse/internal/storefront"
	"SweetHouse/pkg/kit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := kit.NewLogger(storefront.Service, "")
		bootLog.Fatal("load config failed", zap.Error(err))
	}

	log := kit.NewLogger(storefront.Service, cfg.Log.File)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, err := storefront.New(ctx, cfg, log, reg)
	if err != nil {
		log.Fatal("init storefront failed", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("close storage failed", zap.Error(err))
		}
	}()

	log.Info("storefront ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("products", len(app.Reader.Products())),
	)

	if err := app.Run(ctx); err != nil {
		log.Error("storefront stopped", zap.Error(err))
	}
}
