package staticanalysis

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cuemby/vigil/pkg/threatintel"
	"github.com/cuemby/vigil/pkg/types"
)

// threatIntelStrategy queries the cached indicator set for the artifact's
// sha256 and md5. Misses do not block analysis (spec.md §4.2 step 7).
type threatIntelStrategy struct {
	intel *threatintel.Cache
}

func (threatIntelStrategy) Name() string { return "threat_intel" }

func (s threatIntelStrategy) Analyze(_ context.Context, acc *Accumulator, data []byte) error {
	if s.intel == nil {
		return nil
	}

	now := time.Now().UTC()

	sha := sha256.Sum256(data)
	if classification, hit := s.intel.LookupSHA256(hex.EncodeToString(sha[:])); hit {
		acc.ThreatIntelHits = append(acc.ThreatIntelHits, types.Finding{
			Kind:       "intel_hit",
			Name:       "sha256",
			Detail:     classification,
			ScoreDelta: 40,
			ObservedAt: now,
		})
	}

	md := md5.Sum(data)
	if classification, hit := s.intel.LookupMD5(hex.EncodeToString(md[:])); hit {
		acc.ThreatIntelHits = append(acc.ThreatIntelHits, types.Finding{
			Kind:       "intel_hit",
			Name:       "md5",
			Detail:     classification,
			ScoreDelta: 40,
			ObservedAt: now,
		})
	}

	return nil
}
