package sandbox

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/google/uuid"

	"github.com/cuemby/vigil/pkg/log"
)

const (
	// DefaultNamespace is the containerd namespace analysis sandboxes run in.
	DefaultNamespace = "vigil-sandbox"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// analysisImage is the hardened rootfs used for every analysis run.
	// It carries the syscall allow-list seccomp profile and no host tools.
	analysisImage = "vigil/analysis-rootfs:latest"
)

// ContainerdSupervisor implements Supervisor using a containerd client
// (adapted from the teacher's runtime.ContainerdRuntime: same client
// lifecycle and OCI spec construction, repurposed from long-running
// service containers to one-shot, fully torn-down analysis sandboxes).
type ContainerdSupervisor struct {
	client    *containerd.Client
	namespace string

	allowedSyscalls []string
}

// NewContainerdSupervisor connects to the containerd socket at socketPath.
func NewContainerdSupervisor(socketPath string, allowedSyscalls []string) (*ContainerdSupervisor, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("sandbox: connect to containerd: %w", err)
	}

	return &ContainerdSupervisor{
		client:          client,
		namespace:       DefaultNamespace,
		allowedSyscalls: allowedSyscalls,
	}, nil
}

// Close releases the containerd client connection.
func (s *ContainerdSupervisor) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Provision creates a fresh container for one analysis run: read-only
// artifact mount, write-only scratch mount, syscall allow-list, no host
// network (spec.md §4.3 provisioning contract).
func (s *ContainerdSupervisor) Provision(ctx context.Context, spec Spec) (*Instance, error) {
	ctx = namespaces.WithNamespace(ctx, s.namespace)

	image, err := s.client.GetImage(ctx, analysisImage)
	if err != nil {
		return nil, fmt.Errorf("sandbox: get analysis image: %w", err)
	}

	containerID := fmt.Sprintf("sandbox-%s", uuid.New().String())

	mounts := []specs.Mount{
		{
			Source:      spec.ArtifactPath,
			Destination: "/artifact",
			Type:        "bind",
			Options:     []string{"ro", "bind"},
		},
		{
			Source:      spec.ScratchPath,
			Destination: "/scratch",
			Type:        "bind",
			Options:     []string{"rw", "bind"},
		},
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithMounts(mounts),
		oci.WithCPUShares(uint64(ResourceCaps.VCPUs * 1024)),
		oci.WithCPUCFS(int64(ResourceCaps.VCPUs*100000), 100000),
		oci.WithMemoryLimit(uint64(ResourceCaps.MemoryMiB) << 20),
		oci.WithSeccompProfile(&specs.LinuxSeccomp{
			DefaultAction: specs.ActErrno,
			Syscalls:      allowListToRules(s.allowedSyscalls),
		}),
	}
	// No host network namespace is joined: the container gets its own,
	// isolated netns by default. This supervisor does not install the
	// NetworkPolicy rules from pkg/sandbox/network.go for that namespace.

	_, err = s.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("sandbox: create container: %w", err)
	}

	return &Instance{
		ID:         containerID,
		ArtifactID: spec.ArtifactID,
		TenantID:   spec.TenantID,
		State:      StateReady,
		StartedAt:  time.Now().UTC(),
	}, nil
}

// Execute starts the analysis container and waits for it to run to
// completion or hit the wall-clock cap (spec.md §4.3 resource caps).
func (s *ContainerdSupervisor) Execute(ctx context.Context, inst *Instance) error {
	ctx = namespaces.WithNamespace(ctx, s.namespace)

	container, err := s.client.LoadContainer(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("sandbox: load container %s: %w", inst.ID, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("sandbox: create task: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, ResourceCaps.WallClock)
	defer cancel()

	if err := task.Start(runCtx); err != nil {
		return fmt.Errorf("sandbox: start task: %w", err)
	}
	inst.State = StateRunning

	statusC, err := task.Wait(runCtx)
	if err != nil {
		return fmt.Errorf("sandbox: wait for task: %w", err)
	}

	select {
	case <-statusC:
		return nil
	case <-runCtx.Done():
		inst.State = StateDraining
		_ = task.Kill(ctx, syscall.SIGKILL)
		return fmt.Errorf("sandbox: wall-clock cap exceeded")
	}
}

// ObserveStream is left to the event-collection sidecar built into the
// analysis image; the supervisor only needs to expose its channel here.
// A real deployment wires this to the sidecar's log/event socket. This
// skeleton returns a closed channel for instances with no collector
// attached yet.
func (s *ContainerdSupervisor) ObserveStream(ctx context.Context, inst *Instance) (<-chan Event, error) {
	ch := make(chan Event)
	close(ch)
	return ch, nil
}

// Terminate guarantees teardown regardless of exit path (spec.md §4.3
// teardown): kill any running task, delete it, then delete the
// container and its snapshot.
func (s *ContainerdSupervisor) Terminate(ctx context.Context, inst *Instance) error {
	ctx = namespaces.WithNamespace(ctx, s.namespace)

	container, err := s.client.LoadContainer(ctx, inst.ID)
	if err != nil {
		inst.State = StateDestroyed
		return nil
	}

	if task, err := container.Task(ctx, nil); err == nil {
		_ = task.Kill(ctx, syscall.SIGKILL)
		if statusC, err := task.Wait(ctx); err == nil {
			select {
			case <-statusC:
			case <-time.After(5 * time.Second):
			}
		}
		_, _ = task.Delete(ctx)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		log.WithComponent("sandbox.containerd").Warn().Err(err).
			Str("instance_id", inst.ID).Msg("failed to delete container during teardown")
	}

	inst.State = StateDestroyed
	return nil
}

func allowListToRules(syscalls []string) []specs.LinuxSyscall {
	if len(syscalls) == 0 {
		return nil
	}
	rules := make([]specs.LinuxSyscall, 0, len(syscalls))
	for _, name := range syscalls {
		rules = append(rules, specs.LinuxSyscall{
			Names:  []string{name},
			Action: specs.ActAllow,
		})
	}
	return rules
}
