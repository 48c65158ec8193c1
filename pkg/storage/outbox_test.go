package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outbox.db")
	o, err := NewOutbox(path)
	if err != nil {
		t.Fatalf("NewOutbox() error: %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestOutbox_PutAndPending(t *testing.T) {
	o := newTestOutbox(t)

	first := OutboxIntent{ArtifactID: "artifact-1", TenantID: "tenant-a", Subject: "vigil.artifact.uploaded", Payload: []byte("{}"), EnqueuedAt: time.Now().UTC()}
	second := OutboxIntent{ArtifactID: "artifact-2", TenantID: "tenant-a", Subject: "vigil.artifact.uploaded", Payload: []byte("{}"), EnqueuedAt: time.Now().UTC().Add(time.Second)}

	if err := o.Put(first); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := o.Put(second); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	pending, err := o.Pending()
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending intents, got %d", len(pending))
	}
	if pending[0].ArtifactID != "artifact-1" || pending[1].ArtifactID != "artifact-2" {
		t.Errorf("expected oldest-first ordering, got %+v", pending)
	}
}

func TestOutbox_PutOverwritesSameArtifact(t *testing.T) {
	o := newTestOutbox(t)

	if err := o.Put(OutboxIntent{ArtifactID: "artifact-1", Subject: "a", EnqueuedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := o.Put(OutboxIntent{ArtifactID: "artifact-1", Subject: "b", EnqueuedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	depth, err := o.Depth()
	if err != nil {
		t.Fatalf("Depth() error: %v", err)
	}
	if depth != 1 {
		t.Errorf("expected retrying the same artifact to overwrite, got depth %d", depth)
	}
}

func TestOutbox_Delete(t *testing.T) {
	o := newTestOutbox(t)

	if err := o.Put(OutboxIntent{ArtifactID: "artifact-1", EnqueuedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := o.Delete("artifact-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	depth, err := o.Depth()
	if err != nil {
		t.Fatalf("Depth() error: %v", err)
	}
	if depth != 0 {
		t.Errorf("expected depth 0 after delete, got %d", depth)
	}
}

func TestOutbox_IncrementAttempts(t *testing.T) {
	o := newTestOutbox(t)

	if err := o.Put(OutboxIntent{ArtifactID: "artifact-1", EnqueuedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := o.IncrementAttempts("artifact-1"); err != nil {
		t.Fatalf("IncrementAttempts() error: %v", err)
	}
	if err := o.IncrementAttempts("artifact-1"); err != nil {
		t.Fatalf("IncrementAttempts() error: %v", err)
	}

	pending, err := o.Pending()
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(pending) != 1 || pending[0].Attempts != 2 {
		t.Fatalf("expected attempts to be 2, got %+v", pending)
	}
}

func TestOutbox_IncrementAttemptsMissingIntentIsNoop(t *testing.T) {
	o := newTestOutbox(t)

	if err := o.IncrementAttempts("does-not-exist"); err != nil {
		t.Errorf("expected incrementing a missing intent to be a no-op, got error: %v", err)
	}
}

func TestOutbox_DepthEmpty(t *testing.T) {
	o := newTestOutbox(t)

	depth, err := o.Depth()
	if err != nil {
		t.Fatalf("Depth() error: %v", err)
	}
	if depth != 0 {
		t.Errorf("expected empty outbox to have depth 0, got %d", depth)
	}
}
