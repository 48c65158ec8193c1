package staticanalysis

import (
	"context"
	"time"

	"github.com/cuemby/vigil/pkg/staticanalysis/patternscan"
	"github.com/cuemby/vigil/pkg/types"
)

// patternScanStrategy runs the configured rule-set against the full
// artifact bytes with a 25s wall-clock cap; a timeout yields whatever
// matches were already found, flagged partial (spec.md §4.2 step 4).
type patternScanStrategy struct {
	rules *patternscan.RuleSet
}

func (patternScanStrategy) Name() string { return "pattern_scan" }

func (s patternScanStrategy) Analyze(ctx context.Context, acc *Accumulator, data []byte) error {
	if s.rules == nil {
		return nil
	}

	scanCtx, cancel := context.WithTimeout(ctx, patternscan.DefaultTimeout)
	defer cancel()

	matches, partial := patternscan.Scan(scanCtx, s.rules, data)
	if partial {
		acc.Partial = true
	}

	now := time.Now().UTC()
	for _, m := range matches {
		acc.YaraMatches = append(acc.YaraMatches, types.Finding{
			Kind:       "pattern_match",
			Name:       m.RuleName,
			Detail:     "rule matched artifact bytes",
			ScoreDelta: m.Weight,
			ObservedAt: now,
		})
	}
	return nil
}
