package staticanalysis

import (
	"testing"

	"github.com/cuemby/vigil/pkg/types"
)

func TestScoreEmpty(t *testing.T) {
	acc := &Accumulator{}
	if got := Score(acc); got != 0 {
		t.Fatalf("Score() = %d, want 0", got)
	}
}

func TestScoreCapsPatternMatches(t *testing.T) {
	acc := &Accumulator{
		YaraMatches: []types.Finding{{Name: "r1"}, {Name: "r2"}},
	}
	if got := Score(acc); got != 40 {
		t.Fatalf("Score() = %d, want 40 (2*30 capped at 40)", got)
	}
}

func TestScoreCapsIntelHits(t *testing.T) {
	acc := &Accumulator{
		ThreatIntelHits: []types.Finding{{Name: "sha256"}, {Name: "md5"}},
	}
	if got := Score(acc); got != 50 {
		t.Fatalf("Score() = %d, want 50 (2*40 capped at 50)", got)
	}
}

func TestScoreClampsAt100(t *testing.T) {
	acc := &Accumulator{
		YaraMatches:       []types.Finding{{}, {}},
		ThreatIntelHits:   []types.Finding{{}, {}},
		SuspiciousStrings: []types.Finding{{}, {}, {}, {}, {}},
		Sections: []types.SectionInfo{
			{PackedBySentropy: true, UnusualName: true},
			{PackedBySentropy: true, UnusualName: true},
		},
	}
	if got := Score(acc); got != 100 {
		t.Fatalf("Score() = %d, want 100", got)
	}
}

func TestScoreCombinesDistinctCategories(t *testing.T) {
	acc := &Accumulator{
		YaraMatches: []types.Finding{{}},
		Sections:    []types.SectionInfo{{UnusualName: true}},
	}
	if got := Score(acc); got != 45 { // 30 (1 pattern) + 15 (1 unusual section)
		t.Fatalf("Score() = %d, want 45", got)
	}
}

func TestScoreFlagsWriteExecuteSection(t *testing.T) {
	acc := &Accumulator{
		Sections: []types.SectionInfo{
			{Name: ".text", Writable: true, Executable: true},
		},
	}
	if got := Score(acc); got != 15 {
		t.Fatalf("Score() = %d, want 15 (standard-named W+X section still flagged)", got)
	}
}

func TestScoreCapsSuspiciousSectionFlagsAt20(t *testing.T) {
	acc := &Accumulator{
		Sections: []types.SectionInfo{
			{Name: ".text", Writable: true, Executable: true},
			{Name: "weird", UnusualName: true},
		},
	}
	if got := Score(acc); got != 20 {
		t.Fatalf("Score() = %d, want 20 (2*15 capped at 20)", got)
	}
}
