package sandbox

import (
	"context"
	"errors"
	"testing"
)

type fakeSupervisor struct {
	events       []Event
	executeErr   error
	terminated   bool
	terminateID  string
	panicOnExec  bool
}

func (f *fakeSupervisor) Provision(_ context.Context, spec Spec) (*Instance, error) {
	return &Instance{ID: "fake-1", ArtifactID: spec.ArtifactID, TenantID: spec.TenantID, State: StateReady}, nil
}

func (f *fakeSupervisor) Execute(_ context.Context, inst *Instance) error {
	if f.panicOnExec {
		panic("simulated sandbox fault")
	}
	inst.State = StateRunning
	return f.executeErr
}

func (f *fakeSupervisor) ObserveStream(_ context.Context, inst *Instance) (<-chan Event, error) {
	ch := make(chan Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeSupervisor) Terminate(_ context.Context, inst *Instance) error {
	f.terminated = true
	f.terminateID = inst.ID
	inst.State = StateDestroyed
	return nil
}

func TestRunDeliversEventsAndTerminates(t *testing.T) {
	sup := &fakeSupervisor{events: []Event{{Kind: EventFileOp, Detail: "open /tmp/x"}}}

	var received []Event
	err := Run(context.Background(), sup, Spec{ArtifactID: "a1", TenantID: "t1"}, func(ev Event) {
		received = append(received, ev)
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 event delivered, got %d", len(received))
	}
	if !sup.terminated {
		t.Fatal("expected Terminate to be called")
	}
}

func TestRunPropagatesExecuteError(t *testing.T) {
	sup := &fakeSupervisor{executeErr: errors.New("analysis crashed")}

	err := Run(context.Background(), sup, Spec{ArtifactID: "a1", TenantID: "t1"}, nil)
	if err == nil {
		t.Fatal("expected Run() to propagate the execute error")
	}
	if !sup.terminated {
		t.Fatal("expected Terminate to be called even on execute failure")
	}
}

func TestRunTerminatesOnPanic(t *testing.T) {
	sup := &fakeSupervisor{panicOnExec: true}

	err := Run(context.Background(), sup, Spec{ArtifactID: "a1", TenantID: "t1"}, nil)
	if err == nil {
		t.Fatal("expected Run() to return an error after a panic")
	}
	if !sup.terminated {
		t.Fatal("expected Terminate to be called even after a panic")
	}
}
