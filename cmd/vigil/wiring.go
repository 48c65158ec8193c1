package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/vigil/pkg/bus"
	"github.com/cuemby/vigil/pkg/config"
	"github.com/cuemby/vigil/pkg/health"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/objectstore"
	"github.com/cuemby/vigil/pkg/security"
	"github.com/cuemby/vigil/pkg/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmarshalEvent decodes one bus message payload, wrapping errors with
// the subject-agnostic context every handler needs.
func unmarshalEvent(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal bus event: %w", err)
	}
	return nil
}

// waitForShutdown blocks until SIGINT/SIGTERM, then invokes stop.
func waitForShutdown(stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	stop()
}

// openStore connects the metadata store.
func openStore(ctx context.Context, cfg config.PostgresConfig) (storage.Store, error) {
	store, err := storage.NewPGStore(ctx, cfg.DSN, cfg.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return store, nil
}

// openObjectStore connects C1.
func openObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (*objectstore.Store, error) {
	store, err := objectstore.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}
	return store, nil
}

// connectBus dials C3.
func connectBus(cfg config.BusConfig) (*bus.Bus, error) {
	b, err := bus.Connect(cfg.URL, cfg.StreamName, cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}
	return b, nil
}

// openTenantKeys resolves the operator-held master key named by
// cfg.MasterKeyRef (an environment variable holding a base64-encoded
// 32-byte key) into a TenantKeyProvider. MasterKeyRef defaults to
// VIGIL_MASTER_KEY when unset.
func openTenantKeys(cfg config.TenantKeysConfig) (*security.TenantKeyProvider, error) {
	ref := cfg.MasterKeyRef
	if ref == "" {
		ref = "VIGIL_MASTER_KEY"
	}
	encoded := os.Getenv(ref)
	if encoded == "" {
		return nil, fmt.Errorf("tenant master key not set: $%s is empty", ref)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode tenant master key from $%s: %w", ref, err)
	}
	return security.NewTenantKeyProvider(key)
}

// serveHealthAndMetrics starts the per-process /healthz and /metrics
// endpoints every vigil subcommand exposes (spec.md §2).
func serveHealthAndMetrics(addr string, registry *health.Registry) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", registry.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			log.WithComponent("cmd.vigil").Error().Err(err).Msg("health/metrics server error")
		}
	}()
	log.WithComponent("cmd.vigil").Info().Str("addr", addr).Msg("health and metrics endpoints listening")
}
