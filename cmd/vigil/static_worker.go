package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/vigil/pkg/bus"
	"github.com/cuemby/vigil/pkg/config"
	"github.com/cuemby/vigil/pkg/health"
	"github.com/cuemby/vigil/pkg/ingest"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/metrics"
	"github.com/cuemby/vigil/pkg/objectstore"
	"github.com/cuemby/vigil/pkg/security"
	"github.com/cuemby/vigil/pkg/staticanalysis"
	"github.com/cuemby/vigil/pkg/staticanalysis/patternscan"
	"github.com/cuemby/vigil/pkg/storage"
	"github.com/cuemby/vigil/pkg/threatintel"
	"github.com/cuemby/vigil/pkg/types"
)

var staticWorkerCmd = &cobra.Command{
	Use:   "static-worker",
	Short: "Run C5: consume artifact.uploaded, produce a StaticReport",
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

		objects, err := openObjectStore(ctx, cfg.ObjectStore)
		if err != nil {
			return err
		}

		b, err := connectBus(cfg.Bus)
		if err != nil {
			return err
		}
		defer b.Close()

		rules, err := patternscan.LoadDir(cfg.PatternRules.Directory)
		if err != nil {
			return fmt.Errorf("load pattern rules: %w", err)
		}

		intel := threatintel.New(newMultiFeedFetcher(cfg.ThreatIntel))
		intel.Start(ctx)
		defer intel.Stop()

		keys, err := openTenantKeys(cfg.TenantKeys)
		if err != nil {
			return err
		}

		engine := staticanalysis.NewEngine(rules, intel)
		worker := &staticWorker{store: store, objects: objects, bus: b, engine: engine, keys: keys}

		registry := health.NewRegistry()
		registry.Register(&health.PingFunc{CheckerName: "postgres", Fn: store.Ping})
		registry.Register(&health.PingFunc{CheckerName: "object_store", Fn: objects.Ping})
		registry.Register(&health.PingFunc{CheckerName: "bus", Fn: b.Ping})
		serveHealthAndMetrics(healthAddr, registry)

		if err := b.Subscribe(ctx, bus.SubjectArtifactUploaded, cfg.Bus.ConsumerGroup+".static", worker.handle); err != nil {
			return fmt.Errorf("subscribe artifact.uploaded: %w", err)
		}

		log.WithComponent("cmd.static_worker").Info().Msg("static worker running")
		waitForShutdown(cancel)
		return nil
	},
}

func init() {
	staticWorkerCmd.Flags().String("health-addr", ":8081", "Address for /healthz and /metrics")
}

// staticWorker wires C5's allow/deny short-circuit and engine run over
// one artifact.uploaded delivery.
type staticWorker struct {
	store   storage.Store
	objects *objectstore.Store
	bus     *bus.Bus
	engine  *staticanalysis.Engine
	keys    *security.TenantKeyProvider
}

func (w *staticWorker) handle(ctx context.Context, data []byte) error {
	var ev bus.ArtifactUploadedEvent
	if err := unmarshalEvent(data, &ev); err != nil {
		return err
	}

	if existing, err := w.store.LatestStaticReport(ctx, ev.TenantID, ev.ArtifactID); err == nil && existing != nil {
		return nil // already processed, insert-if-absent idempotency
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StaticDuration)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if short, report := w.shortCircuit(ctx, ev); short {
		return w.persistAndPublish(ctx, ev, report, true)
	}

	artifact, err := w.store.GetArtifactByID(ctx, ev.TenantID, ev.ArtifactID)
	if err != nil {
		return fmt.Errorf("load artifact %s: %w", ev.ArtifactID, err)
	}

	rc, err := w.objects.Get(ctx, artifact.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch artifact bytes: %w", err)
	}
	sealed, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read artifact bytes: %w", err)
	}

	cipher, err := w.keys.Cipher(ev.TenantID)
	if err != nil {
		return fmt.Errorf("derive tenant cipher: %w", err)
	}
	data, err = cipher.Decrypt(sealed)
	if err != nil {
		return fmt.Errorf("unseal artifact bytes: %w", err)
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	sniffed := ingest.SniffFileType(head)
	fileType := fileTypeOf(sniffed.Kind)

	report := w.engine.Analyze(ctx, ev.ArtifactID, ev.TenantID, fileType, data)
	if report.Partial {
		metrics.StaticPartialTotal.Inc()
	}
	metrics.StaticScoreHistogram.Observe(float64(report.StaticScore))

	return w.persistAndPublish(ctx, ev, report, false)
}

// shortCircuit implements spec.md §4.2 step 1.
func (w *staticWorker) shortCircuit(ctx context.Context, ev bus.ArtifactUploadedEvent) (bool, *types.StaticReport) {
	if entry, err := w.store.LookupHashListEntry(ctx, ev.TenantID, types.HashSHA256, ev.SHA256); err == nil && entry != nil {
		score := 0
		if entry.ListType == types.ListDeny {
			score = 100
		}
		return true, &types.StaticReport{
			ArtifactID:     ev.ArtifactID,
			TenantID:       ev.TenantID,
			StaticScore:    score,
			ShortCircuited: true,
			CreatedAt:      time.Now().UTC(),
		}
	}
	return false, nil
}

func (w *staticWorker) persistAndPublish(ctx context.Context, ev bus.ArtifactUploadedEvent, report *types.StaticReport, shortCircuit bool) error {
	report.ArtifactID = ev.ArtifactID
	report.TenantID = ev.TenantID
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	if err := w.store.InsertStaticReport(ctx, report); err != nil {
		return fmt.Errorf("persist static report: %w", err)
	}

	executable := report.FileType == types.FileTypePE || report.FileType == types.FileTypeELF || report.FileType == types.FileTypeMachO
	if !shortCircuit && report.StaticScore >= 30 && executable {
		if err := w.bus.Publish(ctx, bus.SubjectDynamicRequested, bus.DynamicRequestedEvent{
			ArtifactID: ev.ArtifactID,
			TenantID:   ev.TenantID,
		}); err != nil {
			return fmt.Errorf("publish dynamic.requested: %w", err)
		}
		return nil
	}

	return w.bus.Publish(ctx, bus.SubjectStaticComplete, bus.AnalysisCompleteEvent{
		ArtifactID:   ev.ArtifactID,
		TenantID:     ev.TenantID,
		Phase:        bus.PhaseStatic,
		ShortCircuit: shortCircuit,
	})
}

func fileTypeOf(kind string) types.FileType {
	switch kind {
	case "pe":
		return types.FileTypePE
	case "elf":
		return types.FileTypeELF
	case "macho":
		return types.FileTypeMachO
	default:
		return types.FileTypeUnknown
	}
}

// multiFeedFetcher fans a threatintel.Cache refresh out to every
// configured feed and merges the results, so the cache's single-Fetcher
// contract still works with a config that names several feeds.
type multiFeedFetcher struct {
	feeds []*threatintel.HTTPFeed
}

func newMultiFeedFetcher(cfg config.ThreatIntelConfig) *multiFeedFetcher {
	f := &multiFeedFetcher{}
	for _, feed := range cfg.Feeds {
		f.feeds = append(f.feeds, threatintel.NewHTTPFeed(feed.URL))
	}
	return f
}

func (f *multiFeedFetcher) Fetch(ctx context.Context) (*threatintel.Indicators, error) {
	merged := &threatintel.Indicators{
		SHA256:  map[string]string{},
		MD5:     map[string]string{},
		Domains: map[string]string{},
		IPs:     map[string]string{},
	}
	for _, feed := range f.feeds {
		ind, err := feed.Fetch(ctx)
		if err != nil {
			log.WithComponent("cmd.static_worker").Warn().Err(err).Msg("threat intel feed fetch failed")
			continue
		}
		for k, v := range ind.SHA256 {
			merged.SHA256[k] = v
		}
		for k, v := range ind.MD5 {
			merged.MD5[k] = v
		}
		for k, v := range ind.Domains {
			merged.Domains[k] = v
		}
		for k, v := range ind.IPs {
			merged.IPs[k] = v
		}
	}
	return merged, nil
}
