package dynamicanalysis

import (
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/vigil/pkg/types"
)

// category weights for the capped-sum behavioral_score formula (spec.md
// §4.3, verbatim).
const (
	weightRansomware         = 30
	weightDataExfiltration   = 25
	weightPrivilegeEscalation = 20
	weightLateralMovement    = 20
	weightPersistence        = 15
	weightDefenseEvasion     = 15
)

// ransomwareIndicatorCount implements "any two raise severity to
// critical" (spec.md §4.3): counts how many of the four named
// ransomware heuristics fired.
func (a *Accumulator) ransomwareIndicatorCount() int {
	count := 0
	if a.fileModificationRate() {
		count++
	}
	if a.shadowCopyDeleted {
		count++
	}
	if len(a.renamedExtensions) >= renameExtensionCount {
		count++
	}
	if a.highEntropyOverwrite {
		count++
	}
	return count
}

// Finalize builds the BehavioralReport for everything observed so far,
// including the capped-sum behavioral_score (spec.md §4.3).
func (a *Accumulator) Finalize(executionMS int64) *types.BehavioralReport {
	now := time.Now().UTC()

	ransomwareCount := a.ransomwareIndicatorCount()
	ransomwareCandidate := ransomwareCount >= 2 || a.fileModificationRate()

	score := 0
	var ransomwareFindings []types.Finding
	if ransomwareCount > 0 {
		score += weightRansomware
		ransomwareFindings = a.ransomwareFindings(now)
	}

	var persistenceFindings []types.Finding
	if a.runKeyWrite || a.scheduledTaskCreate || a.serviceInstall {
		score += weightPersistence
		persistenceFindings = a.persistenceFindings(now)
	}

	if a.tokenManipulation || a.processInjection {
		score += weightPrivilegeEscalation
	}
	if a.lateralMovementSuspected {
		score += weightLateralMovement
	}
	if a.dataExfilSuspected {
		score += weightDataExfiltration
	}
	if a.defenseEvasionSuspected {
		score += weightDefenseEvasion
	}

	if score > 100 {
		score = 100
	}

	return &types.BehavioralReport{
		ID:                    uuid.New().String(),
		ArtifactID:            a.ArtifactID,
		TenantID:              a.TenantID,
		ExecutionMS:           executionMS,
		FileOps:               a.fileOps,
		RegistryOps:           a.registryOps,
		ProcessEvents:         a.processEvents,
		NetworkEvents:         a.networkEvents,
		RansomwareIndicators:  ransomwareFindings,
		PersistenceMechanisms: persistenceFindings,
		BehavioralScore:       score,
		RansomwareCandidate:   ransomwareCandidate,
		CreatedAt:             now,
	}
}

func (a *Accumulator) ransomwareFindings(now time.Time) []types.Finding {
	var findings []types.Finding
	if a.fileModificationRate() {
		findings = append(findings, types.Finding{
			Kind: "ransomware_indicator", Name: "file_modification_rate",
			Detail: "sustained file modification rate >= 50 ops/s", ObservedAt: now,
		})
	}
	if a.shadowCopyDeleted {
		findings = append(findings, types.Finding{
			Kind: "ransomware_indicator", Name: "shadow_copy_deletion",
			Detail: "shadow-copy-deletion command observed", ObservedAt: now,
		})
	}
	if len(a.renamedExtensions) >= renameExtensionCount {
		findings = append(findings, types.Finding{
			Kind: "ransomware_indicator", Name: "mass_rename",
			Detail: "rename to foreign extension on >= 20 distinct files", ObservedAt: now,
		})
	}
	if a.highEntropyOverwrite {
		findings = append(findings, types.Finding{
			Kind: "ransomware_indicator", Name: "high_entropy_overwrite",
			Detail: "high-entropy write-over of existing files", ObservedAt: now,
		})
	}
	return findings
}

func (a *Accumulator) persistenceFindings(now time.Time) []types.Finding {
	var findings []types.Finding
	if a.runKeyWrite {
		findings = append(findings, types.Finding{
			Kind: "persistence", Name: "run_key_or_autostart", Detail: "run-key or autostart write observed", ObservedAt: now,
		})
	}
	if a.scheduledTaskCreate {
		findings = append(findings, types.Finding{
			Kind: "persistence", Name: "scheduled_task", Detail: "scheduled task creation observed", ObservedAt: now,
		})
	}
	if a.serviceInstall {
		findings = append(findings, types.Finding{
			Kind: "persistence", Name: "service_install", Detail: "service installation observed", ObservedAt: now,
		})
	}
	return findings
}
