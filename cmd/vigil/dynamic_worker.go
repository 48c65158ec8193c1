package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/vigil/pkg/bus"
	"github.com/cuemby/vigil/pkg/config"
	"github.com/cuemby/vigil/pkg/dynamicanalysis"
	"github.com/cuemby/vigil/pkg/health"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/metrics"
	"github.com/cuemby/vigil/pkg/objectstore"
	"github.com/cuemby/vigil/pkg/sandbox"
	"github.com/cuemby/vigil/pkg/security"
	"github.com/cuemby/vigil/pkg/storage"
)

var dynamicWorkerCmd = &cobra.Command{
	Use:   "dynamic-worker",
	Short: "Run C6/C7: consume analysis.dynamic.requested, drive the sandbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		healthAddr, _ := cmd.Flags().GetString("health-addr")
		scratchRoot, _ := cmd.Flags().GetString("scratch-root")
		containerdSocket, _ := cmd.Flags().GetString("containerd-socket")

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

		sup, err := buildSupervisor(cfg.Sandbox, containerdSocket)
		if err != nil {
			return err
		}

		scratch, err := sandbox.NewScratchManager(scratchRoot, cfg.Sandbox.DiskBytes>>30)
		if err != nil {
			return fmt.Errorf("open scratch manager: %w", err)
		}

		keys, err := openTenantKeys(cfg.TenantKeys)
		if err != nil {
			return err
		}

		worker := &dynamicWorker{store: store, objects: objects, bus: b, sup: sup, scratch: scratch, keys: keys}

		registry := health.NewRegistry()
		registry.Register(&health.PingFunc{CheckerName: "postgres", Fn: store.Ping})
		registry.Register(&health.PingFunc{CheckerName: "object_store", Fn: objects.Ping})
		registry.Register(&health.PingFunc{CheckerName: "bus", Fn: b.Ping})
		serveHealthAndMetrics(healthAddr, registry)

		if err := b.Subscribe(ctx, bus.SubjectDynamicRequested, cfg.Bus.ConsumerGroup+".dynamic", worker.handle); err != nil {
			return fmt.Errorf("subscribe dynamic.requested: %w", err)
		}

		log.WithComponent("cmd.dynamic_worker").Info().Str("backend", cfg.Sandbox.Backend).Msg("dynamic worker running")
		waitForShutdown(cancel)
		return nil
	},
}

func init() {
	dynamicWorkerCmd.Flags().String("health-addr", ":8082", "Address for /healthz and /metrics")
	dynamicWorkerCmd.Flags().String("scratch-root", "/var/lib/vigil/scratch", "Root directory for per-job scratch regions")
	dynamicWorkerCmd.Flags().String("containerd-socket", "/run/containerd/containerd.sock", "Containerd socket path (containerd backend only)")
}

// buildSupervisor picks the sandbox.Supervisor backend per
// config.SandboxConfig.Backend (spec.md §9: replaceable isolation
// mechanism behind one interface).
func buildSupervisor(cfg config.SandboxConfig, containerdSocket string) (sandbox.Supervisor, error) {
	switch cfg.Backend {
	case "microvm":
		return sandbox.NewMicroVMSupervisor("/var/lib/vigil/microvm"), nil
	case "containerd", "":
		return sandbox.NewContainerdSupervisor(containerdSocket, defaultAllowedSyscalls)
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
}

// defaultAllowedSyscalls is the enumerated allow-list spec.md §4.3
// requires the syscall filter restrict to.
var defaultAllowedSyscalls = []string{
	"read", "write", "open", "openat", "close", "stat", "fstat", "lstat",
	"mmap", "munmap", "brk", "rt_sigaction", "rt_sigprocmask", "ioctl",
	"access", "execve", "exit", "exit_group", "fcntl", "getcwd", "mkdir",
	"unlink", "rename", "clone", "wait4",
}

type dynamicWorker struct {
	store   storage.Store
	objects *objectstore.Store
	bus     *bus.Bus
	sup     sandbox.Supervisor
	scratch *sandbox.ScratchManager
	keys    *security.TenantKeyProvider
}

func (w *dynamicWorker) handle(ctx context.Context, data []byte) error {
	var ev bus.DynamicRequestedEvent
	if err := unmarshalEvent(data, &ev); err != nil {
		return err
	}

	if existing, err := w.store.LatestBehavioralReport(ctx, ev.TenantID, ev.ArtifactID); err == nil && existing != nil {
		return nil // spec.md §4.3 idempotency: redelivery returns immediately
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DynamicDuration)

	ctx, cancel := context.WithTimeout(ctx, 300*time.Second)
	defer cancel()

	artifact, err := w.store.GetArtifactByID(ctx, ev.TenantID, ev.ArtifactID)
	if err != nil {
		return fmt.Errorf("load artifact %s: %w", ev.ArtifactID, err)
	}

	artifactPath, cleanup, err := w.stageArtifact(ctx, ev.TenantID, artifact.StorageKey)
	if err != nil {
		return fmt.Errorf("stage artifact: %w", err)
	}
	defer cleanup()

	scratchPath, err := w.scratch.Create(ev.ArtifactID)
	if err != nil {
		return fmt.Errorf("provision scratch region: %w", err)
	}
	defer func() {
		if cipher, err := w.keys.Cipher(ev.TenantID); err == nil {
			if err := w.scratch.Seal(ev.ArtifactID, cipher); err != nil {
				log.WithArtifactID(ev.ArtifactID).Warn().Err(err).Msg("dynamic: scratch seal failed")
			}
		}
		if err := w.scratch.Destroy(ev.ArtifactID); err != nil {
			log.WithArtifactID(ev.ArtifactID).Warn().Err(err).Msg("dynamic: scratch teardown failed")
		}
	}()

	acc := dynamicanalysis.NewAccumulator(ev.ArtifactID, ev.TenantID)
	started := time.Now()

	runErr := sandbox.Run(ctx, w.sup, sandbox.Spec{
		ArtifactID:   ev.ArtifactID,
		TenantID:     ev.TenantID,
		ArtifactPath: artifactPath,
		ScratchPath:  scratchPath,
	}, acc.Observe)
	if runErr != nil {
		log.WithArtifactID(ev.ArtifactID).Error().Err(runErr).Msg("dynamic: sandbox run failed, scoring partial observations")
	}

	report := acc.Finalize(time.Since(started).Milliseconds())
	if report.RansomwareCandidate {
		metrics.RansomwareCandidatesTotal.Inc()
	}

	if _, _, err := w.store.InsertBehavioralReportIfAbsent(ctx, report); err != nil {
		return fmt.Errorf("persist behavioral report: %w", err)
	}

	return w.bus.Publish(ctx, bus.SubjectDynamicComplete, bus.AnalysisCompleteEvent{
		ArtifactID: ev.ArtifactID,
		TenantID:   ev.TenantID,
		Phase:      bus.PhaseDynamic,
	})
}

// stageArtifact copies the object-store blob to a local read-only path
// for the sandbox's read-only artifact drop (spec.md §4.3 provisioning
// contract), unsealing it from its tenant-scoped ciphertext first,
// returning a cleanup func that removes the staged copy.
func (w *dynamicWorker) stageArtifact(ctx context.Context, tenantID, storageKey string) (string, func(), error) {
	rc, err := w.objects.Get(ctx, storageKey)
	if err != nil {
		return "", nil, err
	}
	sealed, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return "", nil, err
	}

	cipher, err := w.keys.Cipher(tenantID)
	if err != nil {
		return "", nil, fmt.Errorf("derive tenant cipher: %w", err)
	}
	content, err := cipher.Decrypt(sealed)
	if err != nil {
		return "", nil, fmt.Errorf("unseal artifact bytes: %w", err)
	}

	f, err := os.CreateTemp("", "vigil-artifact-*")
	if err != nil {
		return "", nil, err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, err
	}
	f.Close()
	if err := os.Chmod(f.Name(), 0o400); err != nil {
		os.Remove(f.Name())
		return "", nil, err
	}

	path := f.Name()
	return path, func() { os.Remove(path) }, nil
}
