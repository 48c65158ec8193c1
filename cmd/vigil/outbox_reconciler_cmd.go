package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/vigil/pkg/health"
	"github.com/cuemby/vigil/pkg/ingest"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/manager"
	"github.com/cuemby/vigil/pkg/storage"
)

var outboxReconcilerCmd = &cobra.Command{
	Use:   "outbox-reconciler",
	Short: "Drain the ingest outbox onto the bus; only the elected leader drains",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		healthAddr, _ := cmd.Flags().GetString("health-addr")

		elector, err := startElector(cmd)
		if err != nil {
			return err
		}
		defer elector.Shutdown()

		outbox, err := storage.NewOutbox(cfg.Postgres.OutboxDBPath)
		if err != nil {
			return fmt.Errorf("open outbox: %w", err)
		}
		defer outbox.Close()

		b, err := connectBus(cfg.Bus)
		if err != nil {
			return err
		}
		defer b.Close()

		reconciler := ingest.NewOutboxReconciler(outbox, b, elector)
		reconciler.Start()
		defer reconciler.Stop()

		registry := health.NewRegistry()
		registry.Register(&health.PingFunc{CheckerName: "bus", Fn: b.Ping})
		serveHealthAndMetrics(healthAddr, registry)

		log.WithComponent("cmd.outbox_reconciler").Info().Msg("outbox reconciler running")
		waitForShutdown(func() {})
		return nil
	},
}

func init() {
	outboxReconcilerCmd.Flags().String("health-addr", ":8085", "Address for /healthz and /metrics")
	outboxReconcilerCmd.Flags().String("node-id", "vigil-ingest-1", "This replica's raft node ID")
	outboxReconcilerCmd.Flags().String("bind-addr", "127.0.0.1:7946", "Raft bind address for leader election")
	outboxReconcilerCmd.Flags().String("data-dir", "/var/lib/vigil/raft", "Raft log/snapshot directory")
	outboxReconcilerCmd.Flags().String("peers", "", "Comma-separated node_id@bind_addr peer list, including self")
	rootCmd.AddCommand(outboxReconcilerCmd)
}

// startElector builds a manager.Elector from the node-id/bind-addr/data-dir/peers flags.
func startElector(cmd *cobra.Command) (*manager.Elector, error) {
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	peersFlag, _ := cmd.Flags().GetString("peers")

	peers := []manager.Peer{{NodeID: nodeID, BindAddr: bindAddr}}
	if peersFlag != "" {
		peers = nil
		for _, p := range strings.Split(peersFlag, ",") {
			parts := strings.SplitN(p, "@", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("invalid --peers entry %q, want node_id@bind_addr", p)
			}
			peers = append(peers, manager.Peer{NodeID: parts[0], BindAddr: parts[1]})
		}
	}

	return manager.Start(manager.Config{
		NodeID:   nodeID,
		BindAddr: bindAddr,
		DataDir:  dataDir,
		Peers:    peers,
	})
}
