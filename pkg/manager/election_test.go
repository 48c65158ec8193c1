package manager

import (
	"testing"
	"time"
)

func TestStart_SingleNodeBecomesLeader(t *testing.T) {
	elector, err := Start(Config{
		NodeID:   "vigil-test-1",
		BindAddr: "127.0.0.1:17946",
		DataDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer func() {
		if err := elector.Shutdown(); err != nil {
			t.Errorf("Shutdown() error: %v", err)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if elector.IsLeader() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected the sole replica to become leader within 5s")
}

func TestStart_ExplicitSinglePeer(t *testing.T) {
	elector, err := Start(Config{
		NodeID:   "vigil-test-2",
		BindAddr: "127.0.0.1:17947",
		DataDir:  t.TempDir(),
		Peers:    []Peer{{NodeID: "vigil-test-2", BindAddr: "127.0.0.1:17947"}},
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer func() { _ = elector.Shutdown() }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if elector.IsLeader() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected the explicitly-listed sole peer to become leader within 5s")
}
