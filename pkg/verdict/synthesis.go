package verdict

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/vigil/pkg/bus"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/metrics"
	"github.com/cuemby/vigil/pkg/storage"
	"github.com/cuemby/vigil/pkg/types"
)

// synthesisBudget is the spec.md §4.4 step 5 persistence deadline.
const synthesisBudget = 2 * time.Second

// Synthesizer implements C8: level-triggered verdict synthesis over the
// current store state for one artifact.
type Synthesizer struct {
	store storage.Store
	bus   *bus.Bus
}

// New builds a Synthesizer.
func New(store storage.Store, b *bus.Bus) *Synthesizer {
	return &Synthesizer{store: store, bus: b}
}

// Synthesize runs the full algorithm (spec.md §4.4 steps 1-6) for one
// artifact: allow/deny short-circuit, composite scoring, banding,
// evidence aggregation, persistence, and publication.
func (s *Synthesizer) Synthesize(ctx context.Context, tenantID, artifactID, sha256 string) (*types.Verdict, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SynthesisDuration)

	ctx, cancel := context.WithTimeout(ctx, synthesisBudget)
	defer cancel()

	if entry, err := s.store.LookupHashListEntry(ctx, tenantID, types.HashSHA256, sha256); err == nil && entry != nil {
		return s.persistAndPublish(ctx, hashListVerdict(artifactID, tenantID, entry))
	} else if err != nil && err != storage.ErrNotFound {
		return nil, fmt.Errorf("verdict: lookup hash list: %w", err)
	}

	static, err := s.store.LatestStaticReport(ctx, tenantID, artifactID)
	if err != nil && err != storage.ErrNotFound {
		return nil, fmt.Errorf("verdict: load static report: %w", err)
	}
	behavioral, err := s.store.LatestBehavioralReport(ctx, tenantID, artifactID)
	if err != nil && err != storage.ErrNotFound {
		return nil, fmt.Errorf("verdict: load behavioral report: %w", err)
	}

	if static == nil && behavioral == nil {
		return nil, fmt.Errorf("verdict: no reports available for artifact %s", artifactID)
	}

	riskScore := computeRiskScore(static, behavioral)
	category := bandVerdict(riskScore)
	evidence := buildEvidence(static, behavioral)

	v := &types.Verdict{
		ID:         uuid.New().String(),
		ArtifactID: artifactID,
		TenantID:   tenantID,
		Verdict:    category,
		RiskScore:  riskScore,
		Evidence:   evidence,
	}
	if static != nil {
		s := static.StaticScore
		v.StaticScore = &s
	}
	if behavioral != nil {
		b := behavioral.BehavioralScore
		v.BehavioralScore = &b
	}

	return s.persistAndPublish(ctx, v)
}

// Override writes a new verdict revision carrying an analyst override
// (spec.md §4.4 overrides): no re-analysis occurs, the prior reports and
// verdict are unchanged, but the same publication path fires.
func (s *Synthesizer) Override(ctx context.Context, tenantID, artifactID string, category types.VerdictCategory, overriddenBy, reason string) (*types.Verdict, error) {
	prior, err := s.store.LatestVerdict(ctx, tenantID, artifactID)
	if err != nil && err != storage.ErrNotFound {
		return nil, fmt.Errorf("verdict: load prior verdict: %w", err)
	}

	v := &types.Verdict{
		ID:             uuid.New().String(),
		ArtifactID:     artifactID,
		TenantID:       tenantID,
		Verdict:        category,
		OverriddenBy:   &overriddenBy,
		OverrideReason: &reason,
	}
	if prior != nil {
		v.RiskScore = prior.RiskScore
		v.StaticScore = prior.StaticScore
		v.BehavioralScore = prior.BehavioralScore
		v.Evidence = prior.Evidence
	}

	return s.persistAndPublish(ctx, v)
}

func (s *Synthesizer) persistAndPublish(ctx context.Context, v *types.Verdict) (*types.Verdict, error) {
	changed, err := s.store.UpsertVerdict(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("verdict: persist: %w", err)
	}
	metrics.VerdictsTotal.WithLabelValues(string(v.Verdict)).Inc()

	if !changed {
		log.WithArtifactID(v.ArtifactID).Debug().Msg("verdict: unchanged, skipping republish")
		return v, nil
	}

	event := bus.VerdictGeneratedEvent{
		VerdictID:  v.ID,
		ArtifactID: v.ArtifactID,
		TenantID:   v.TenantID,
		Verdict:    string(v.Verdict),
		RiskScore:  v.RiskScore,
	}
	if err := s.bus.Publish(ctx, bus.SubjectVerdictGenerated, event); err != nil {
		log.WithArtifactID(v.ArtifactID).Warn().Err(err).Msg("verdict: publish failed")
	}

	return v, nil
}

func hashListVerdict(artifactID, tenantID string, entry *types.HashListEntry) *types.Verdict {
	category := types.VerdictClean
	score := 0
	if entry.ListType == types.ListDeny {
		category = types.VerdictMalicious
		score = 100
	}
	return &types.Verdict{
		ID:         uuid.New().String(),
		ArtifactID: artifactID,
		TenantID:   tenantID,
		Verdict:    category,
		RiskScore:  score,
	}
}

// computeRiskScore implements spec.md §4.4 step 2.
func computeRiskScore(static *types.StaticReport, behavioral *types.BehavioralReport) int {
	var score float64
	switch {
	case behavioral == nil:
		score = float64(static.StaticScore)
	case static == nil:
		score = float64(behavioral.BehavioralScore)
	default:
		adjust := severityAdjust(static)
		if adjust > 10 {
			adjust = 10
		}
		score = 0.4*float64(static.StaticScore) + 0.6*float64(behavioral.BehavioralScore) + float64(adjust)
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}

// bandVerdict implements spec.md §4.4 step 3.
func bandVerdict(score int) types.VerdictCategory {
	switch {
	case score < 30:
		return types.VerdictClean
	case score <= 70:
		return types.VerdictSuspicious
	default:
		return types.VerdictMalicious
	}
}
