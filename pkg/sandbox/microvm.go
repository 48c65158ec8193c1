package sandbox

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/lima-vm/lima/pkg/instance"
	"github.com/lima-vm/lima/pkg/limayaml"
	"github.com/lima-vm/lima/pkg/store"
	"github.com/google/uuid"

	"github.com/cuemby/vigil/pkg/log"
)

// MicroVMSupervisor implements Supervisor by provisioning a disposable
// Lima VM per job instead of a containerd container, giving stronger
// isolation at higher provisioning cost (adapted from the teacher's
// pkg/embedded.LimaManager, which keeps one long-lived Lima instance for
// the whole cluster; here every Provision call creates and every
// Terminate call destroys its own instance, matching spec.md §4.3's "no
// pooling between jobs").
type MicroVMSupervisor struct {
	dataDir string
}

// NewMicroVMSupervisor builds a Supervisor that stages per-job VM state
// under dataDir.
func NewMicroVMSupervisor(dataDir string) *MicroVMSupervisor {
	return &MicroVMSupervisor{dataDir: dataDir}
}

func (s *MicroVMSupervisor) instanceName(inst *Instance) string {
	return "vigil-sandbox-" + inst.ID
}

// Provision creates and starts a fresh, minimal Lima VM scoped to one
// artifact execution.
func (s *MicroVMSupervisor) Provision(ctx context.Context, spec Spec) (*Instance, error) {
	inst := &Instance{
		ID:         uuid.New().String(),
		ArtifactID: spec.ArtifactID,
		TenantID:   spec.TenantID,
		State:      StateProvisioning,
		StartedAt:  time.Now().UTC(),
	}

	name := s.instanceName(inst)
	config := s.buildConfig(spec)

	configYAML, err := limayaml.Marshal(&config, false)
	if err != nil {
		return nil, fmt.Errorf("sandbox: marshal microvm config: %w", err)
	}

	if _, err := instance.Create(ctx, name, configYAML, false); err != nil {
		return nil, fmt.Errorf("sandbox: create microvm instance: %w", err)
	}

	limaInst, err := store.Inspect(name)
	if err != nil {
		return nil, fmt.Errorf("sandbox: inspect microvm instance: %w", err)
	}

	if err := instance.Start(ctx, limaInst, "", false); err != nil {
		return nil, fmt.Errorf("sandbox: start microvm instance: %w", err)
	}

	if err := s.waitForReady(ctx, name); err != nil {
		_ = instance.StopForcibly(limaInst)
		return nil, fmt.Errorf("sandbox: microvm failed to become ready: %w", err)
	}

	inst.State = StateReady
	return inst, nil
}

// Execute is a no-op past Provision for the microvm backend: the
// analysis payload runs via the VM's provisioning script, which already
// ran by the time Provision returns. Execute enforces the wall-clock cap
// as a hard ceiling on top of that.
func (s *MicroVMSupervisor) Execute(ctx context.Context, inst *Instance) error {
	inst.State = StateRunning
	runCtx, cancel := context.WithTimeout(ctx, ResourceCaps.WallClock)
	defer cancel()
	<-runCtx.Done()
	if runCtx.Err() == context.DeadlineExceeded {
		inst.State = StateDraining
	}
	return nil
}

// ObserveStream is wired to the VM's event sidecar in a full deployment;
// this skeleton returns a closed channel.
func (s *MicroVMSupervisor) ObserveStream(ctx context.Context, inst *Instance) (<-chan Event, error) {
	ch := make(chan Event)
	close(ch)
	return ch, nil
}

// Terminate stops and removes the per-job VM unconditionally.
func (s *MicroVMSupervisor) Terminate(ctx context.Context, inst *Instance) error {
	name := s.instanceName(inst)

	limaInst, err := store.Inspect(name)
	if err != nil {
		inst.State = StateDestroyed
		return nil
	}

	if err := instance.StopGracefully(ctx, limaInst, false); err != nil {
		log.WithComponent("sandbox.microvm").Warn().Err(err).
			Str("instance_id", inst.ID).Msg("graceful microvm stop failed, forcing")
		_ = instance.StopForcibly(limaInst)
	}

	inst.State = StateDestroyed
	return nil
}

func (s *MicroVMSupervisor) buildConfig(spec Spec) limayaml.LimaYAML {
	arch := limayaml.AARCH64
	if runtime.GOARCH == "amd64" {
		arch = limayaml.X8664
	}

	cpus := int(ResourceCaps.VCPUs)
	if cpus < 1 {
		cpus = 1
	}
	memory := fmt.Sprintf("%dMiB", ResourceCaps.MemoryMiB)
	disk := fmt.Sprintf("%dGiB", ResourceCaps.DiskGiB)

	return limayaml.LimaYAML{
		Arch:   &arch,
		CPUs:   &cpus,
		Memory: &memory,
		Disk:   &disk,
		Mounts: []limayaml.Mount{
			{Location: spec.ArtifactPath, Writable: boolPtr(false)},
			{Location: spec.ScratchPath, Writable: boolPtr(true)},
		},
		Message: "vigil analysis sandbox, torn down after one run",
	}
}

func (s *MicroVMSupervisor) waitForReady(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("sandbox: timeout waiting for microvm to be ready")
		case <-ticker.C:
			inst, err := store.Inspect(name)
			if err != nil {
				continue
			}
			if inst.Status == store.StatusRunning {
				return nil
			}
		}
	}
}

func boolPtr(b bool) *bool { return &b }
