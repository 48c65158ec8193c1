package bus

// Event payloads for each subject (spec.md §6).

// ArtifactUploadedEvent is published by C4 after a successful ingest.
type ArtifactUploadedEvent struct {
	ArtifactID string `json:"artifact_id"`
	TenantID   string `json:"tenant_id"`
	SHA256     string `json:"sha256"`
	StorageKey string `json:"storage_key"`
}

// DynamicRequestedEvent is published by C5 when static analysis warrants
// sandbox execution.
type DynamicRequestedEvent struct {
	ArtifactID string `json:"artifact_id"`
	TenantID   string `json:"tenant_id"`
}

// AnalysisCompletePhase distinguishes which stage finished.
type AnalysisCompletePhase string

const (
	PhaseStatic  AnalysisCompletePhase = "static"
	PhaseDynamic AnalysisCompletePhase = "dynamic"
)

// AnalysisCompleteEvent is published by C5 (static-only path) or C7
// (dynamic path) to trigger the synthesizer.
type AnalysisCompleteEvent struct {
	ArtifactID   string                `json:"artifact_id"`
	TenantID     string                `json:"tenant_id"`
	Phase        AnalysisCompletePhase `json:"phase"`
	ShortCircuit bool                  `json:"short_circuit,omitempty"`
}

// VerdictGeneratedEvent is published by C8 after persisting a verdict.
type VerdictGeneratedEvent struct {
	VerdictID  string `json:"verdict_id"`
	ArtifactID string `json:"artifact_id"`
	TenantID   string `json:"tenant_id"`
	Verdict    string `json:"verdict"`
	RiskScore  int    `json:"risk_score"`
}
