package dynamicanalysis

import (
	"testing"
	"time"

	"github.com/cuemby/vigil/pkg/sandbox"
)

func TestFileModificationRateDetectsSustainedBurst(t *testing.T) {
	a := NewAccumulator("artifact-1", "tenant-1")
	base := time.Now()
	for i := 0; i < 200; i++ {
		a.Observe(sandbox.Event{
			Kind:       sandbox.EventFileOp,
			Detail:     "write /scratch/file.bin",
			ObservedAt: base.Add(time.Duration(i) * 10 * time.Millisecond),
		})
	}
	if !a.fileModificationRate() {
		t.Fatal("expected sustained high file modification rate to be detected")
	}
}

func TestFileModificationRateIgnoresSparseWrites(t *testing.T) {
	a := NewAccumulator("artifact-1", "tenant-1")
	base := time.Now()
	for i := 0; i < 5; i++ {
		a.Observe(sandbox.Event{
			Kind:       sandbox.EventFileOp,
			Detail:     "write /scratch/file.bin",
			ObservedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	if a.fileModificationRate() {
		t.Fatal("expected sparse writes not to trip the rate heuristic")
	}
}

func TestShadowCopyDeletionDetected(t *testing.T) {
	a := NewAccumulator("artifact-1", "tenant-1")
	a.Observe(sandbox.Event{Kind: sandbox.EventFileOp, Detail: "exec vssadmin delete shadows /all", ObservedAt: time.Now()})
	if !a.shadowCopyDeleted {
		t.Fatal("expected shadow copy deletion to be flagged")
	}
}

func TestRansomwareCandidateRequiresTwoIndicators(t *testing.T) {
	a := NewAccumulator("artifact-1", "tenant-1")
	a.Observe(sandbox.Event{Kind: sandbox.EventFileOp, Detail: "exec vssadmin delete shadows /all", ObservedAt: time.Now()})

	report := a.Finalize(1000)
	if report.RansomwareCandidate {
		t.Fatal("expected a single indicator not to trip ransomware_candidate")
	}

	a.highEntropyOverwrite = true
	report = a.Finalize(1000)
	if !report.RansomwareCandidate {
		t.Fatal("expected two indicators to trip ransomware_candidate")
	}
}

func TestPersistenceDetection(t *testing.T) {
	a := NewAccumulator("artifact-1", "tenant-1")
	a.Observe(sandbox.Event{
		Kind:       sandbox.EventRegistryOp,
		Detail:     `write HKCU\Software\Microsoft\Windows\CurrentVersion\Run\malware`,
		ObservedAt: time.Now(),
	})
	report := a.Finalize(500)
	if len(report.PersistenceMechanisms) != 1 {
		t.Fatalf("expected one persistence finding, got %d", len(report.PersistenceMechanisms))
	}
}
