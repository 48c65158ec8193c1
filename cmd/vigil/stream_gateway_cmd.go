package main

import (
	"context"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cuemby/vigil/pkg/health"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/streaming"
)

var streamGatewayCmd = &cobra.Command{
	Use:   "stream-gateway",
	Short: "Run C9: bridge the bus onto /v1/stream WebSocket subscribers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		healthAddr, _ := cmd.Flags().GetString("health-addr")

		ctx, cancel := context.WithCancel(context.Background())

		store, err := openStore(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer store.Close()

		b, err := connectBus(cfg.Bus)
		if err != nil {
			return err
		}
		defer b.Close()

		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		broker := streaming.NewBroker()
		broker.Start()
		defer broker.Stop()

		buffer := streaming.NewReplayBuffer(redisClient)
		go buffer.RunSweeper(ctx)

		bridge := streaming.NewBridge(broker, buffer, store)
		go func() {
			if err := bridge.Run(ctx, b); err != nil {
				log.WithComponent("cmd.stream_gateway").Error().Err(err).Msg("bridge stopped")
			}
		}()

		gw := streaming.NewGateway(broker, buffer, store)

		registry := health.NewRegistry()
		registry.Register(&health.PingFunc{CheckerName: "postgres", Fn: store.Ping})
		registry.Register(&health.PingFunc{CheckerName: "bus", Fn: b.Ping})
		registry.Register(&health.PingFunc{CheckerName: "redis", Fn: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
		serveHealthAndMetrics(healthAddr, registry)

		server := &http.Server{Addr: listenAddr, Handler: withTenantAuth(gw.Router())}
		go func() {
			log.WithComponent("cmd.stream_gateway").Info().Str("addr", listenAddr).Msg("stream gateway listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithComponent("cmd.stream_gateway").Error().Err(err).Msg("stream gateway server error")
			}
		}()

		waitForShutdown(func() {
			_ = server.Shutdown(context.Background())
			cancel()
		})
		return nil
	},
}

func init() {
	streamGatewayCmd.Flags().String("listen-addr", ":8443", "Address for /v1/stream")
	streamGatewayCmd.Flags().String("health-addr", ":8084", "Address for /healthz and /metrics")
}

// withTenantAuth reads X-Tenant-ID and attaches it via streaming.WithTenant.
// The real identity boundary (token verification, mTLS) is the external
// auth collaborator named in spec.md §6 Non-goals; this header read is the
// seam that collaborator's middleware plugs into.
func withTenantAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get("X-Tenant-ID")
		if tenantID == "" {
			http.Error(w, "missing X-Tenant-ID", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(streaming.WithTenant(r.Context(), tenantID)))
	})
}
