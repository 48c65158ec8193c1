package staticanalysis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/vigil/pkg/staticanalysis/patternscan"
	"github.com/cuemby/vigil/pkg/threatintel"
	"github.com/cuemby/vigil/pkg/types"
)

// Strategy is one static-analysis concern (spec.md §9 tagged-strategy
// pattern). Analyze mutates acc in place and returns an error only for
// conditions the caller should treat as a hard stage failure; anything
// recoverable (malformed binary, scan timeout) is recorded on acc instead.
type Strategy interface {
	Name() string
	Analyze(ctx context.Context, acc *Accumulator, data []byte) error
}

// Accumulator collects strategy output into the final StaticReport.
type Accumulator struct {
	FileType          types.FileType
	Imports           []string
	Sections          []types.SectionInfo
	YaraMatches       []types.Finding
	Strings           []string
	SuspiciousStrings []types.Finding
	EntropyPerSection map[string]float64
	ThreatIntelHits   []types.Finding
	Partial           bool
	ParseDiagnostic   string
}

// Engine runs the fixed strategy slice over one artifact's bytes.
type Engine struct {
	strategies []Strategy
	rules      *patternscan.RuleSet
	intel      *threatintel.Cache
}

// NewEngine builds the standard C5 strategy slice, ordered per spec.md
// §4.2 steps 2-7.
func NewEngine(rules *patternscan.RuleSet, intel *threatintel.Cache) *Engine {
	e := &Engine{rules: rules, intel: intel}
	e.strategies = []Strategy{
		&formatParseStrategy{},
		&importsSectionsStrategy{},
		&patternScanStrategy{rules: rules},
		&stringsStrategy{},
		&entropyStrategy{},
		&threatIntelStrategy{intel: intel},
	}
	return e
}

// Analyze runs every strategy over data and scores the result, honoring
// the spec.md §4.2 30s wall-clock budget: a strategy that doesn't finish
// in time yields a partial result rather than failing the whole report.
func (e *Engine) Analyze(ctx context.Context, artifactID, tenantID string, fileType types.FileType, data []byte) *types.StaticReport {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	acc := &Accumulator{
		FileType:          fileType,
		EntropyPerSection: map[string]float64{},
	}

	for _, strat := range e.strategies {
		select {
		case <-ctx.Done():
			acc.Partial = true
		default:
			if err := strat.Analyze(ctx, acc, data); err != nil {
				acc.Partial = true
			}
		}
	}

	score := Score(acc)

	return &types.StaticReport{
		ID:                uuid.New().String(),
		ArtifactID:        artifactID,
		TenantID:          tenantID,
		FileType:          acc.FileType,
		Imports:           acc.Imports,
		Sections:          acc.Sections,
		YaraMatches:       acc.YaraMatches,
		Strings:           acc.Strings,
		SuspiciousStrings: acc.SuspiciousStrings,
		EntropyPerSection: acc.EntropyPerSection,
		ThreatIntelHits:   acc.ThreatIntelHits,
		StaticScore:       score,
		Partial:           acc.Partial,
		ShortCircuited:    false,
		CreatedAt:         time.Now().UTC(),
	}
}

// ShortCircuitReport builds the placeholder report for an allow/deny hash
// list hit, skipping every strategy (spec.md §4.2 step 1).
func ShortCircuitReport(artifactID, tenantID string, score int) *types.StaticReport {
	return &types.StaticReport{
		ID:                uuid.New().String(),
		ArtifactID:        artifactID,
		TenantID:          tenantID,
		FileType:          types.FileTypeUnknown,
		EntropyPerSection: map[string]float64{},
		StaticScore:       score,
		ShortCircuited:    true,
		CreatedAt:         time.Now().UTC(),
	}
}
