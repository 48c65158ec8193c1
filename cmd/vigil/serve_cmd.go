package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cuemby/vigil/pkg/bus"
	"github.com/cuemby/vigil/pkg/health"
	"github.com/cuemby/vigil/pkg/ingest"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/sandbox"
	"github.com/cuemby/vigil/pkg/staticanalysis"
	"github.com/cuemby/vigil/pkg/staticanalysis/patternscan"
	"github.com/cuemby/vigil/pkg/storage"
	"github.com/cuemby/vigil/pkg/streaming"
	"github.com/cuemby/vigil/pkg/threatintel"
	"github.com/cuemby/vigil/pkg/verdict"
)

// serveCmd runs every stage in one process, replacing the teacher's
// hybrid manager+worker single-process mode for deployments too small to
// warrant running C4-C9 as separate replicas.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run every pipeline stage in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all {
			return fmt.Errorf("serve currently only supports --all")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		healthAddr, _ := cmd.Flags().GetString("health-addr")
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
		scratchRoot, _ := cmd.Flags().GetString("scratch-root")

		ctx, cancel := context.WithCancel(context.Background())

		store, err := openStore(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer store.Close()

		objects, err := openObjectStore(ctx, cfg.ObjectStore)
		if err != nil {
			return err
		}

		b, err := connectBus(cfg.Bus)
		if err != nil {
			return err
		}
		defer b.Close()

		outbox, err := storage.NewOutbox(cfg.Postgres.OutboxDBPath)
		if err != nil {
			return fmt.Errorf("open outbox: %w", err)
		}
		defer outbox.Close()

		elector, err := startElector(cmd)
		if err != nil {
			return err
		}
		defer elector.Shutdown()

		rules, err := patternscan.LoadDir(cfg.PatternRules.Directory)
		if err != nil {
			return fmt.Errorf("load pattern rules: %w", err)
		}

		intel := threatintel.New(newMultiFeedFetcher(cfg.ThreatIntel))
		intel.Start(ctx)
		defer intel.Stop()

		sup, err := buildSupervisor(cfg.Sandbox, containerdSocket)
		if err != nil {
			return err
		}
		scratch, err := sandbox.NewScratchManager(scratchRoot, cfg.Sandbox.DiskBytes>>30)
		if err != nil {
			return fmt.Errorf("open scratch manager: %w", err)
		}

		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer redisClient.Close()

		keys, err := openTenantKeys(cfg.TenantKeys)
		if err != nil {
			return err
		}

		reconciler := ingest.NewOutboxReconciler(outbox, b, elector)
		reconciler.Start()
		defer reconciler.Stop()

		engine := staticanalysis.NewEngine(rules, intel)
		staticW := &staticWorker{store: store, objects: objects, bus: b, engine: engine, keys: keys}

		dynamicW := &dynamicWorker{store: store, objects: objects, bus: b, sup: sup, scratch: scratch, keys: keys}

		synth := verdict.New(store, b)
		synthHandler := func(ctx context.Context, data []byte) error {
			var ev bus.AnalysisCompleteEvent
			if err := unmarshalEvent(data, &ev); err != nil {
				return err
			}
			artifact, err := store.GetArtifactByID(ctx, ev.TenantID, ev.ArtifactID)
			if err != nil {
				return fmt.Errorf("load artifact %s: %w", ev.ArtifactID, err)
			}
			_, err = synth.Synthesize(ctx, ev.TenantID, ev.ArtifactID, artifact.SHA256)
			return err
		}

		broker := streaming.NewBroker()
		broker.Start()
		defer broker.Stop()
		buffer := streaming.NewReplayBuffer(redisClient)
		go buffer.RunSweeper(ctx)
		bridge := streaming.NewBridge(broker, buffer, store)
		go func() {
			if err := bridge.Run(ctx, b); err != nil {
				log.WithComponent("cmd.serve").Error().Err(err).Msg("bridge stopped")
			}
		}()
		gw := streaming.NewGateway(broker, buffer, store)

		subs := []struct {
			subject string
			group   string
			handle  bus.Handler
		}{
			{bus.SubjectArtifactUploaded, cfg.Bus.ConsumerGroup + ".static", staticW.handle},
			{bus.SubjectDynamicRequested, cfg.Bus.ConsumerGroup + ".dynamic", dynamicW.handle},
			{bus.SubjectStaticComplete, cfg.Bus.ConsumerGroup + ".synthesis", synthHandler},
			{bus.SubjectDynamicComplete, cfg.Bus.ConsumerGroup + ".synthesis", synthHandler},
		}
		for _, s := range subs {
			if err := b.Subscribe(ctx, s.subject, s.group, s.handle); err != nil {
				return fmt.Errorf("subscribe %s: %w", s.subject, err)
			}
		}
		registry := health.NewRegistry()
		registry.Register(&health.PingFunc{CheckerName: "postgres", Fn: store.Ping})
		registry.Register(&health.PingFunc{CheckerName: "object_store", Fn: objects.Ping})
		registry.Register(&health.PingFunc{CheckerName: "bus", Fn: b.Ping})
		registry.Register(&health.PingFunc{CheckerName: "redis", Fn: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }})
		serveHealthAndMetrics(healthAddr, registry)

		server := &http.Server{Addr: listenAddr, Handler: withTenantAuth(gw.Router())}
		go func() {
			log.WithComponent("cmd.serve").Info().Str("addr", listenAddr).Msg("stream gateway listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithComponent("cmd.serve").Error().Err(err).Msg("stream gateway server error")
			}
		}()

		log.WithComponent("cmd.serve").Info().Msg("all stages running in one process")
		waitForShutdown(func() {
			_ = server.Shutdown(context.Background())
			cancel()
		})
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("all", false, "Run every stage (ingest reconciler, static, dynamic, synthesis, stream gateway) in this process")
	serveCmd.Flags().String("health-addr", ":8080", "Address for /healthz and /metrics")
	serveCmd.Flags().String("listen-addr", ":8443", "Address for /v1/stream")
	serveCmd.Flags().String("containerd-socket", "/run/containerd/containerd.sock", "Containerd socket path (containerd backend only)")
	serveCmd.Flags().String("scratch-root", "/var/lib/vigil/scratch", "Root directory for per-job scratch regions")
	serveCmd.Flags().String("node-id", "vigil-single", "This replica's raft node ID")
	serveCmd.Flags().String("bind-addr", "127.0.0.1:7946", "Raft bind address for leader election")
	serveCmd.Flags().String("data-dir", "/var/lib/vigil/raft", "Raft log/snapshot directory")
	serveCmd.Flags().String("peers", "", "Comma-separated node_id@bind_addr peer list, including self")
}
