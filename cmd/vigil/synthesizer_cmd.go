package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/vigil/pkg/bus"
	"github.com/cuemby/vigil/pkg/health"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/verdict"
)

var synthesizerCmd = &cobra.Command{
	Use:   "synthesizer",
	Short: "Run C8: synthesize a verdict whenever analysis.complete fires",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
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

		synth := verdict.New(store, b)

		registry := health.NewRegistry()
		registry.Register(&health.PingFunc{CheckerName: "postgres", Fn: store.Ping})
		registry.Register(&health.PingFunc{CheckerName: "bus", Fn: b.Ping})
		serveHealthAndMetrics(healthAddr, registry)

		handler := func(ctx context.Context, data []byte) error {
			var ev bus.AnalysisCompleteEvent
			if err := unmarshalEvent(data, &ev); err != nil {
				return err
			}
			artifact, err := store.GetArtifactByID(ctx, ev.TenantID, ev.ArtifactID)
			if err != nil {
				return fmt.Errorf("load artifact %s: %w", ev.ArtifactID, err)
			}
			if _, err := synth.Synthesize(ctx, ev.TenantID, ev.ArtifactID, artifact.SHA256); err != nil {
				return fmt.Errorf("synthesize verdict for %s: %w", ev.ArtifactID, err)
			}
			return nil
		}

		if err := b.Subscribe(ctx, bus.SubjectStaticComplete, cfg.Bus.ConsumerGroup+".synthesis", handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", bus.SubjectStaticComplete, err)
		}
		if err := b.Subscribe(ctx, bus.SubjectDynamicComplete, cfg.Bus.ConsumerGroup+".synthesis", handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", bus.SubjectDynamicComplete, err)
		}

		log.WithComponent("cmd.synthesizer").Info().Msg("synthesizer running")
		waitForShutdown(cancel)
		return nil
	},
}

func init() {
	synthesizerCmd.Flags().String("health-addr", ":8083", "Address for /healthz and /metrics")
}
