package dynamicanalysis

import "testing"

func TestScoreEmptyAccumulator(t *testing.T) {
	a := NewAccumulator("artifact-1", "tenant-1")
	report := a.Finalize(0)
	if report.BehavioralScore != 0 {
		t.Fatalf("BehavioralScore = %d, want 0", report.BehavioralScore)
	}
}

func TestScoreSumsDistinctCategories(t *testing.T) {
	a := NewAccumulator("artifact-1", "tenant-1")
	a.shadowCopyDeleted = true        // ransomware: 30
	a.runKeyWrite = true              // persistence: 15
	a.lateralMovementSuspected = true // lateral movement: 20

	report := a.Finalize(0)
	if report.BehavioralScore != 65 {
		t.Fatalf("BehavioralScore = %d, want 65", report.BehavioralScore)
	}
}

func TestScoreClampsAt100(t *testing.T) {
	a := NewAccumulator("artifact-1", "tenant-1")
	a.shadowCopyDeleted = true
	a.runKeyWrite = true
	a.lateralMovementSuspected = true
	a.dataExfilSuspected = true
	a.tokenManipulation = true
	a.defenseEvasionSuspected = true

	report := a.Finalize(0)
	if report.BehavioralScore != 100 {
		t.Fatalf("BehavioralScore = %d, want 100 (clamped)", report.BehavioralScore)
	}
}
