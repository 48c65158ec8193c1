package types

import "time"

// FileType is the static-engine's best classification of an artifact's format.
type FileType string

const (
	FileTypePE      FileType = "PE"
	FileTypeELF     FileType = "ELF"
	FileTypeMachO   FileType = "MachO"
	FileTypeUnknown FileType = "Unknown"
)

// VerdictCategory is the final classification produced by the synthesizer.
type VerdictCategory string

const (
	VerdictClean      VerdictCategory = "Clean"
	VerdictSuspicious VerdictCategory = "Suspicious"
	VerdictMalicious  VerdictCategory = "Malicious"
)

// ListType distinguishes allow-list from deny-list hash entries.
type ListType string

const (
	ListAllow ListType = "Allow"
	ListDeny  ListType = "Deny"
)

// HashType identifies which digest a HashListEntry's value is.
type HashType string

const (
	HashSHA256 HashType = "sha256"
	HashMD5    HashType = "md5"
	HashSSDeep HashType = "ssdeep"
)

// Tenant is an isolated customer domain, the unit of data and resource
// segregation. Vigil does not manage tenant identity itself (external
// collaborator, spec.md §6) but every record below carries a TenantID.
type Tenant struct {
	ID               string
	Name             string
	EncryptionKeyRef string
	CreatedAt        time.Time
}

// Artifact is the persisted metadata record for a submitted binary. The
// bytes themselves live in the object store under StorageKey.
//
// Invariant: (TenantID, SHA256) is unique. A duplicate upload returns the
// existing ID rather than creating a new row (spec.md §3, §4.1 step 5).
type Artifact struct {
	ID         string
	TenantID   string
	SHA256     string
	MD5        string
	SSDeep     string
	Size       int64
	MIME       string
	StorageKey string
	UploadedBy string
	UploadedAt time.Time
}

// Finding is one piece of evidence contributed by a static-analysis
// strategy or a dynamic-analysis monitor.
type Finding struct {
	Kind        string // e.g. "pattern_match", "intel_hit", "suspicious_string", "packed_section"
	Name        string
	Detail      string
	ScoreDelta  int
	ObservedAt  time.Time
}

// StaticReport is the output of the static engine (C5) for one artifact.
// One per artifact; re-analysis inserts a new report row, it never mutates
// an existing one (spec.md §3).
type StaticReport struct {
	ID                string
	ArtifactID        string
	TenantID          string
	FileType          FileType
	Imports           []string
	Sections          []SectionInfo
	YaraMatches       []Finding
	Strings           []string
	SuspiciousStrings []Finding
	EntropyPerSection map[string]float64
	ThreatIntelHits   []Finding
	StaticScore       int
	Partial           bool // set when a step hit its wall-clock cap
	ShortCircuited    bool // set when an allow/deny list entry fired
	CreatedAt         time.Time
}

// SectionInfo describes one section of a parsed PE/ELF/Mach-O binary.
type SectionInfo struct {
	Name               string
	Size               uint64
	Entropy            float64
	Writable           bool
	Executable         bool
	UnusualName        bool
	PackedBySentropy   bool
}

// BehavioralReport is the output of the dynamic engine (C7) for one
// artifact. At most one per artifact per dynamic-analysis request
// (spec.md §3).
type BehavioralReport struct {
	ID                     string
	ArtifactID             string
	TenantID               string
	ExecutionMS            int64
	FileOps                []Finding
	RegistryOps            []Finding
	ProcessEvents          []Finding
	NetworkEvents          []Finding
	RansomwareIndicators   []Finding
	PersistenceMechanisms  []Finding
	BehavioralScore        int
	RansomwareCandidate    bool
	CreatedAt              time.Time
}

// Evidence is the structured, verdict-reproducible set of findings that
// justify a Verdict (spec.md §4.4 step 4, GLOSSARY).
type Evidence struct {
	PatternRuleNames   []string
	BehavioralIndicators []string
	IntelHitSummaries  []string
	SuspiciousStrings  []string
	NetworkIndicators  []string
}

// Verdict is the final classification for an artifact. Invariant:
// Verdict derives from RiskScore bands (spec.md §4.4) unless OverriddenBy
// is set or an allow/deny-list entry applied. Overrides append a new
// revision; history is preserved in the audit log (out of scope here).
type Verdict struct {
	ID              string
	ArtifactID      string
	TenantID        string
	Verdict         VerdictCategory
	RiskScore       int
	StaticScore     *int
	BehavioralScore *int
	Evidence        Evidence
	OverriddenBy    *string
	OverrideReason  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HashListEntry is a tenant-configured allow/deny override.
// Unique on (TenantID, HashValue, ListType).
type HashListEntry struct {
	TenantID             string
	HashType             HashType
	HashValue            string
	ListType             ListType
	Reason               string
	ThreatClassification *string
	AddedBy              string
	AddedAt              time.Time
}
