package verdict

import (
	"testing"

	"github.com/cuemby/vigil/pkg/types"
)

func TestComputeRiskScoreStaticOnly(t *testing.T) {
	static := &types.StaticReport{StaticScore: 55}
	if got := computeRiskScore(static, nil); got != 55 {
		t.Fatalf("computeRiskScore() = %d, want 55", got)
	}
}

func TestComputeRiskScoreWeightedMean(t *testing.T) {
	static := &types.StaticReport{StaticScore: 50}
	behavioral := &types.BehavioralReport{BehavioralScore: 80}
	got := computeRiskScore(static, behavioral)
	want := int(0.4*50 + 0.6*80)
	if got != want {
		t.Fatalf("computeRiskScore() = %d, want %d", got, want)
	}
}

func TestComputeRiskScoreAddsSeverityAdjustCapped(t *testing.T) {
	static := &types.StaticReport{
		StaticScore: 50,
		ThreatIntelHits: []types.Finding{
			{ScoreDelta: 8}, {ScoreDelta: 8},
		},
	}
	behavioral := &types.BehavioralReport{BehavioralScore: 50}
	got := computeRiskScore(static, behavioral)
	// base = 0.4*50+0.6*50 = 50; severity_adjust capped at 10
	if got != 60 {
		t.Fatalf("computeRiskScore() = %d, want 60", got)
	}
}

func TestComputeRiskScoreClampsAt100(t *testing.T) {
	static := &types.StaticReport{StaticScore: 100}
	behavioral := &types.BehavioralReport{BehavioralScore: 100}
	got := computeRiskScore(static, behavioral)
	if got != 100 {
		t.Fatalf("computeRiskScore() = %d, want 100", got)
	}
}

func TestBandVerdict(t *testing.T) {
	cases := []struct {
		score int
		want  types.VerdictCategory
	}{
		{0, types.VerdictClean},
		{29, types.VerdictClean},
		{30, types.VerdictSuspicious},
		{70, types.VerdictSuspicious},
		{71, types.VerdictMalicious},
		{100, types.VerdictMalicious},
	}
	for _, c := range cases {
		if got := bandVerdict(c.score); got != c.want {
			t.Errorf("bandVerdict(%d) = %q, want %q", c.score, got, c.want)
		}
	}
}

func TestBuildEvidenceIsDeterministic(t *testing.T) {
	static := &types.StaticReport{
		YaraMatches: []types.Finding{{Name: "rule-b"}, {Name: "rule-a"}},
	}
	behavioral := &types.BehavioralReport{
		RansomwareIndicators: []types.Finding{{Name: "shadow_copy_deletion"}},
	}

	first := buildEvidence(static, behavioral)
	second := buildEvidence(static, behavioral)

	if len(first.PatternRuleNames) != 2 || first.PatternRuleNames[0] != "rule-a" {
		t.Fatalf("expected sorted pattern rule names, got %v", first.PatternRuleNames)
	}
	if first.PatternRuleNames[0] != second.PatternRuleNames[0] || first.PatternRuleNames[1] != second.PatternRuleNames[1] {
		t.Fatal("expected buildEvidence to be deterministic across calls")
	}
}

func TestSeverityAdjustSumsScoreDeltas(t *testing.T) {
	static := &types.StaticReport{
		ThreatIntelHits: []types.Finding{{ScoreDelta: 40}, {ScoreDelta: 40}},
	}
	if got := severityAdjust(static); got != 80 {
		t.Fatalf("severityAdjust() = %d, want 80", got)
	}
}
