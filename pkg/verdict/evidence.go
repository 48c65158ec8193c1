package verdict

import (
	"sort"

	"github.com/cuemby/vigil/pkg/types"
)

// buildEvidence aggregates pattern-rule names, behavioral indicators,
// intel hit summaries, suspicious strings, and network indicators into a
// deterministic, sorted structure (spec.md §4.4 step 4): given the same
// reports, the same Evidence value is produced every time.
func buildEvidence(static *types.StaticReport, behavioral *types.BehavioralReport) types.Evidence {
	ev := types.Evidence{}

	if static != nil {
		for _, m := range static.YaraMatches {
			ev.PatternRuleNames = append(ev.PatternRuleNames, m.Name)
		}
		for _, h := range static.ThreatIntelHits {
			ev.IntelHitSummaries = append(ev.IntelHitSummaries, h.Name+": "+h.Detail)
		}
		for _, s := range static.SuspiciousStrings {
			ev.SuspiciousStrings = append(ev.SuspiciousStrings, s.Detail)
		}
	}

	if behavioral != nil {
		for _, r := range behavioral.RansomwareIndicators {
			ev.BehavioralIndicators = append(ev.BehavioralIndicators, r.Name)
		}
		for _, p := range behavioral.PersistenceMechanisms {
			ev.BehavioralIndicators = append(ev.BehavioralIndicators, p.Name)
		}
		for _, n := range behavioral.NetworkEvents {
			ev.NetworkIndicators = append(ev.NetworkIndicators, n.Detail)
		}
	}

	sort.Strings(ev.PatternRuleNames)
	sort.Strings(ev.BehavioralIndicators)
	sort.Strings(ev.IntelHitSummaries)
	sort.Strings(ev.SuspiciousStrings)
	sort.Strings(ev.NetworkIndicators)

	return ev
}

// severityAdjust sums threat-intel severity weights present on the
// static report (spec.md §4.4 step 2: "severity_adjust is the sum of
// threat-intel severity weights present").
func severityAdjust(static *types.StaticReport) int {
	if static == nil {
		return 0
	}
	total := 0
	for _, h := range static.ThreatIntelHits {
		total += h.ScoreDelta
	}
	return total
}
