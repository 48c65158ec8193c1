/*
Package sandbox implements the supervisor side of C6 (spec.md §4.3): it
provisions an isolated execution environment for one artifact, streams
observation events out of it while the artifact runs, and guarantees
every resource is reclaimed on exit — clean, timeout, cap violation, or
panic.

Supervisor is the capability interface (spec.md §9): the concrete
isolation mechanism is replaceable behind it. Two backends are provided:
containerd.go (adapted from the teacher's pkg/runtime.ContainerdRuntime)
and microvm.go (lima-vm/lima, a second backend behind the same
interface). Sandboxes are never pooled or reused across jobs; every
Provision call starts from a fresh rootfs and every Terminate call tears
the instance down for good.
*/
package sandbox

import (
	"context"
	"time"
)

// State is a position in the sandbox lifecycle (spec.md §4.3).
type State string

const (
	StateProvisioning State = "Provisioning"
	StateReady        State = "Ready"
	StateRunning       State = "Running"
	StateDraining     State = "Draining"
	StateDestroyed    State = "Destroyed"
)

// ResourceCaps are the fixed resource limits every sandbox is provisioned
// with (spec.md §4.3): exceeding any cap transitions the instance to
// Draining immediately.
var ResourceCaps = struct {
	VCPUs     float64
	MemoryMiB int64
	DiskGiB   int64
	WallClock time.Duration
}{
	VCPUs:     1,
	MemoryMiB: 2048,
	DiskGiB:   10,
	WallClock: 300 * time.Second,
}

// Spec describes what to provision for one artifact execution.
type Spec struct {
	ArtifactID   string
	TenantID     string
	ArtifactPath string // read-only artifact drop, host path
	ScratchPath  string // write-only scratch region, host path
}

// Instance is a provisioned sandbox, returned by Provision and passed to
// every subsequent supervisor call.
type Instance struct {
	ID         string
	ArtifactID string
	TenantID   string
	State      State
	StartedAt  time.Time
}

// EventKind enumerates the observation categories spec.md §4.3 names.
type EventKind string

const (
	EventFileOp       EventKind = "file_op"
	EventRegistryOp   EventKind = "registry_op"
	EventProcess      EventKind = "process"
	EventDNSQuery     EventKind = "dns_query"
	EventHTTPAttempt  EventKind = "http_attempt"
	EventConnAttempt  EventKind = "connection_attempt"
)

// Event is one observation emitted while the artifact executes.
type Event struct {
	Kind       EventKind
	Detail     string
	ObservedAt time.Time
}

// Supervisor is the capability interface every sandbox backend
// implements (spec.md §9: "concrete isolation mechanism... replaceable").
type Supervisor interface {
	Provision(ctx context.Context, spec Spec) (*Instance, error)
	Execute(ctx context.Context, inst *Instance) error
	ObserveStream(ctx context.Context, inst *Instance) (<-chan Event, error)
	Terminate(ctx context.Context, inst *Instance) error
}
