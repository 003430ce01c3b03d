package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cordum/ipspatch/core/api"
	"github.com/cordum/ipspatch/core/infra/buildinfo"
	"github.com/cordum/ipspatch/core/infra/bus"
	"github.com/cordum/ipspatch/core/infra/config"
	"github.com/cordum/ipspatch/core/infra/deepsecurity"
	"github.com/cordum/ipspatch/core/infra/logging"
	infraMetrics "github.com/cordum/ipspatch/core/infra/metrics"
	"github.com/cordum/ipspatch/core/infra/telemetry"
	"github.com/cordum/ipspatch/core/invoke"
	"github.com/cordum/ipspatch/core/worker"
)

const service = "ipspatch-worker"

func main() {
	buildinfo.Log(service)

	cfg := config.Load()
	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		logging.Info(service, "using default settings", "path", cfg.SettingsPath, "err", err)
	}

	if cfg.TraceStdout {
		shutdown, err := telemetry.InitTracer(service, buildinfo.Version, os.Stdout)
		if err != nil {
			log.Fatalf("failed to init tracer: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	metrics := infraMetrics.NewProm("ipspatch")
	invoker := invoke.New(deepsecurity.FromConfig(cfg, settings), metrics)

	natsBus, err := bus.NewNatsBus(cfg.NatsURL, cfg.Subject)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer natsBus.Close()

	w := worker.New(worker.Config{
		Subject:       cfg.Subject,
		QueueGroup:    cfg.QueueGroup,
		ResultSubject: cfg.ResultSubject,
	}, invoker, natsBus)
	if err := w.Subscribe(natsBus); err != nil {
		log.Fatalf("failed to subscribe: %v", err)
	}

	srv := api.NewServer(api.Options{
		Invoker: invoker,
		Metrics: infraMetrics.NewHTTPProm("ipspatch"),
		Ready:   natsBus.IsConnected,
	})
	go func() {
		if err := srv.Start(cfg.HTTPAddr); err != nil {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logging.Info(service, "shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logging.Error(service, "http shutdown", "err", err)
	}
}
