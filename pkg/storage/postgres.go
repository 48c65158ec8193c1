package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cuemby/vigil/pkg/types"
)

// staticReportBody and behavioralReportBody hold the report fields that
// vary by pipeline stage and don't earn their own columns; they round-trip
// through the report JSONB column.
type staticReportBody struct {
	Imports           []string                `json:"imports"`
	Sections          []types.SectionInfo     `json:"sections"`
	YaraMatches       []types.Finding         `json:"yara_matches"`
	Strings           []string                `json:"strings"`
	EntropyPerSection map[string]float64      `json:"entropy_per_section"`
	ThreatIntelHits   []types.Finding         `json:"threat_intel_hits"`
}

type behavioralReportBody struct {
	FileOps               []types.Finding `json:"file_ops"`
	RegistryOps           []types.Finding `json:"registry_ops"`
	ProcessEvents         []types.Finding `json:"process_events"`
	NetworkEvents         []types.Finding `json:"network_events"`
	RansomwareIndicators  []types.Finding `json:"ransomware_indicators"`
	PersistenceMechanisms []types.Finding `json:"persistence_mechanisms"`
}

// PGStore is the pgx-backed Store implementation for C2.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects a pool against dsn and verifies it with a ping.
func NewPGStore(ctx context.Context, dsn string, maxConns int32) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *PGStore) Close()                         { s.pool.Close() }

// CreateArtifact inserts a new artifact, relying on the (tenant_id, sha256)
// unique constraint for dedupe (spec.md §4.1 invariant 1). created is false
// when the row already existed, in which case a.ID and a.UploadedAt are
// overwritten with the existing row's values so callers always see the
// canonical artifact.
func (s *PGStore) CreateArtifact(ctx context.Context, a *types.Artifact) (bool, error) {
	const q = `
		INSERT INTO artifacts (id, tenant_id, sha256, md5, ssdeep, size, mime, storage_key, uploaded_by, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, sha256) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, a.ID, a.TenantID, a.SHA256, a.MD5, a.SSDeep, a.Size, a.MIME, a.StorageKey, a.UploadedBy, a.UploadedAt)
	if err != nil {
		return false, fmt.Errorf("insert artifact: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	existing, err := s.GetArtifactBySHA256(ctx, a.TenantID, a.SHA256)
	if err != nil {
		return false, fmt.Errorf("load existing artifact after conflict: %w", err)
	}
	*a = *existing
	return false, nil
}

func (s *PGStore) GetArtifactByID(ctx context.Context, tenantID, id string) (*types.Artifact, error) {
	const q = `
		SELECT id, tenant_id, sha256, md5, ssdeep, size, mime, storage_key, uploaded_by, uploaded_at
		FROM artifacts WHERE tenant_id = $1 AND id = $2`
	return scanArtifact(s.pool.QueryRow(ctx, q, tenantID, id))
}

func (s *PGStore) GetArtifactBySHA256(ctx context.Context, tenantID, sha256Hex string) (*types.Artifact, error) {
	const q = `
		SELECT id, tenant_id, sha256, md5, ssdeep, size, mime, storage_key, uploaded_by, uploaded_at
		FROM artifacts WHERE tenant_id = $1 AND sha256 = $2`
	return scanArtifact(s.pool.QueryRow(ctx, q, tenantID, sha256Hex))
}

func scanArtifact(row pgx.Row) (*types.Artifact, error) {
	var a types.Artifact
	err := row.Scan(&a.ID, &a.TenantID, &a.SHA256, &a.MD5, &a.SSDeep, &a.Size, &a.MIME, &a.StorageKey, &a.UploadedBy, &a.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	return &a, nil
}

// InsertStaticReport always inserts a new row; static_analysis_reports is
// append-only so a reanalysis never clobbers a previous report (spec.md
// §4.2 edge case: reanalysis produces a new report row, not a replacement).
func (s *PGStore) InsertStaticReport(ctx context.Context, r *types.StaticReport) error {
	body := staticReportBody{
		Imports:           r.Imports,
		Sections:          r.Sections,
		YaraMatches:       r.YaraMatches,
		Strings:           r.Strings,
		EntropyPerSection: r.EntropyPerSection,
		ThreatIntelHits:   r.ThreatIntelHits,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal static report body: %w", err)
	}

	const q = `
		INSERT INTO static_analysis_reports (id, artifact_id, tenant_id, file_type, report, static_score, partial, short_circuited, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.pool.Exec(ctx, q, r.ID, r.ArtifactID, r.TenantID, string(r.FileType), raw, r.StaticScore, r.Partial, r.ShortCircuited, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert static report: %w", err)
	}
	return nil
}

func (s *PGStore) LatestStaticReport(ctx context.Context, tenantID, artifactID string) (*types.StaticReport, error) {
	const q = `
		SELECT id, artifact_id, tenant_id, file_type, report, static_score, partial, short_circuited, created_at
		FROM static_analysis_reports
		WHERE tenant_id = $1 AND artifact_id = $2
		ORDER BY created_at DESC LIMIT 1`

	var r types.StaticReport
	var fileType string
	var raw []byte
	err := s.pool.QueryRow(ctx, q, tenantID, artifactID).Scan(
		&r.ID, &r.ArtifactID, &r.TenantID, &fileType, &raw, &r.StaticScore, &r.Partial, &r.ShortCircuited, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest static report: %w", err)
	}
	r.FileType = types.FileType(fileType)

	var body staticReportBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("unmarshal static report body: %w", err)
	}
	r.Imports, r.Sections, r.YaraMatches, r.Strings, r.EntropyPerSection, r.ThreatIntelHits =
		body.Imports, body.Sections, body.YaraMatches, body.Strings, body.EntropyPerSection, body.ThreatIntelHits
	return &r, nil
}

// InsertBehavioralReportIfAbsent enforces at most one behavioral report per
// artifact (spec.md §4.3 invariant: one dynamic analysis pass per artifact
// per request). A second attempt after a crash-and-retry must resolve to
// the first report rather than error or duplicate it, so this is the
// insert-if-absent idempotency point for C6/C7 consumers of the at-least-
// once bus.
func (s *PGStore) InsertBehavioralReportIfAbsent(ctx context.Context, r *types.BehavioralReport) (bool, *types.BehavioralReport, error) {
	body := behavioralReportBody{
		FileOps:               r.FileOps,
		RegistryOps:           r.RegistryOps,
		ProcessEvents:         r.ProcessEvents,
		NetworkEvents:         r.NetworkEvents,
		RansomwareIndicators:  r.RansomwareIndicators,
		PersistenceMechanisms: r.PersistenceMechanisms,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return false, nil, fmt.Errorf("marshal behavioral report body: %w", err)
	}

	const q = `
		INSERT INTO behavioral_analysis_reports
			(id, artifact_id, tenant_id, execution_ms, report, behavioral_score, ransomware_candidate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, artifact_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, r.ID, r.ArtifactID, r.TenantID, r.ExecutionMS, raw, r.BehavioralScore, r.RansomwareCandidate, r.CreatedAt)
	if err != nil {
		return false, nil, fmt.Errorf("insert behavioral report: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil, nil
	}

	existing, err := s.LatestBehavioralReport(ctx, r.TenantID, r.ArtifactID)
	if err != nil {
		return false, nil, fmt.Errorf("load existing behavioral report after conflict: %w", err)
	}
	return false, existing, nil
}

func (s *PGStore) LatestBehavioralReport(ctx context.Context, tenantID, artifactID string) (*types.BehavioralReport, error) {
	const q = `
		SELECT id, artifact_id, tenant_id, execution_ms, report, behavioral_score, ransomware_candidate, created_at
		FROM behavioral_analysis_reports
		WHERE tenant_id = $1 AND artifact_id = $2`

	var r types.BehavioralReport
	var raw []byte
	err := s.pool.QueryRow(ctx, q, tenantID, artifactID).Scan(
		&r.ID, &r.ArtifactID, &r.TenantID, &r.ExecutionMS, &raw, &r.BehavioralScore, &r.RansomwareCandidate, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest behavioral report: %w", err)
	}

	var body behavioralReportBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("unmarshal behavioral report body: %w", err)
	}
	r.FileOps, r.RegistryOps, r.ProcessEvents, r.NetworkEvents, r.RansomwareIndicators, r.PersistenceMechanisms =
		body.FileOps, body.RegistryOps, body.ProcessEvents, body.NetworkEvents, body.RansomwareIndicators, body.PersistenceMechanisms
	return &r, nil
}

// UpsertVerdict persists v only if its content differs from the latest
// verdict on record for this artifact (resolves the "does reanalysis force
// a new verdict" open question: no, the synthesizer is level-triggered and
// a new verdict is only warranted when the evidence it would produce
// actually changed). changed is false when an identical verdict already
// exists, in which case v is overwritten with the existing row.
func (s *PGStore) UpsertVerdict(ctx context.Context, v *types.Verdict) (bool, error) {
	evidenceRaw, err := json.Marshal(v.Evidence)
	if err != nil {
		return false, fmt.Errorf("marshal verdict evidence: %w", err)
	}
	hash := verdictContentHash(v, evidenceRaw)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin verdict upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existingID, existingHash string
	var existingCreatedAt time.Time
	err = tx.QueryRow(ctx, `
		SELECT id, content_hash, created_at FROM verdicts
		WHERE tenant_id = $1 AND artifact_id = $2
		ORDER BY updated_at DESC LIMIT 1`, v.TenantID, v.ArtifactID).Scan(&existingID, &existingHash, &existingCreatedAt)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		v.CreatedAt = time.Now().UTC()
		v.UpdatedAt = v.CreatedAt
		_, err = tx.Exec(ctx, `
			INSERT INTO verdicts (id, artifact_id, tenant_id, verdict, risk_score, static_score, behavioral_score,
				evidence, content_hash, overridden_by, override_reason, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			v.ID, v.ArtifactID, v.TenantID, string(v.Verdict), v.RiskScore, v.StaticScore, v.BehavioralScore,
			evidenceRaw, hash, v.OverriddenBy, v.OverrideReason, v.CreatedAt, v.UpdatedAt)
		if err != nil {
			return false, fmt.Errorf("insert verdict: %w", err)
		}
		return true, tx.Commit(ctx)

	case err != nil:
		return false, fmt.Errorf("query latest verdict for upsert: %w", err)
	}

	if existingHash == hash {
		// No-op: reload the existing row into v and report unchanged.
		existing, loadErr := s.LatestVerdict(ctx, v.TenantID, v.ArtifactID)
		if loadErr != nil {
			return false, fmt.Errorf("reload unchanged verdict: %w", loadErr)
		}
		*v = *existing
		return false, tx.Commit(ctx)
	}

	v.ID = existingID
	v.CreatedAt = existingCreatedAt
	v.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE verdicts SET verdict = $3, risk_score = $4, static_score = $5, behavioral_score = $6,
			evidence = $7, content_hash = $8, overridden_by = $9, override_reason = $10, updated_at = $11
		WHERE tenant_id = $1 AND id = $2`,
		v.TenantID, v.ID, string(v.Verdict), v.RiskScore, v.StaticScore, v.BehavioralScore,
		evidenceRaw, hash, v.OverriddenBy, v.OverrideReason, v.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("update verdict: %w", err)
	}
	return true, tx.Commit(ctx)
}

func verdictContentHash(v *types.Verdict, evidenceRaw []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|", v.ArtifactID, v.Verdict, v.RiskScore)
	h.Write(evidenceRaw)
	if v.OverriddenBy != nil {
		fmt.Fprintf(h, "|%s|%s", *v.OverriddenBy, derefOr(v.OverrideReason, ""))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func (s *PGStore) LatestVerdict(ctx context.Context, tenantID, artifactID string) (*types.Verdict, error) {
	const q = `
		SELECT id, artifact_id, tenant_id, verdict, risk_score, static_score, behavioral_score,
			evidence, overridden_by, override_reason, created_at, updated_at
		FROM verdicts
		WHERE tenant_id = $1 AND artifact_id = $2
		ORDER BY updated_at DESC LIMIT 1`

	var v types.Verdict
	var verdict string
	var evidenceRaw []byte
	err := s.pool.QueryRow(ctx, q, tenantID, artifactID).Scan(
		&v.ID, &v.ArtifactID, &v.TenantID, &verdict, &v.RiskScore, &v.StaticScore, &v.BehavioralScore,
		&evidenceRaw, &v.OverriddenBy, &v.OverrideReason, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest verdict: %w", err)
	}
	v.Verdict = types.VerdictCategory(verdict)
	if err := json.Unmarshal(evidenceRaw, &v.Evidence); err != nil {
		return nil, fmt.Errorf("unmarshal verdict evidence: %w", err)
	}
	return &v, nil
}

func (s *PGStore) LookupHashListEntry(ctx context.Context, tenantID string, hashType types.HashType, hashValue string) (*types.HashListEntry, error) {
	const q = `
		SELECT tenant_id, hash_type, hash_value, list_type, reason, threat_classification, added_by, added_at
		FROM hash_lists
		WHERE tenant_id = $1 AND hash_value = $2 AND hash_type = $3`

	var e types.HashListEntry
	var hType, lType string
	err := s.pool.QueryRow(ctx, q, tenantID, hashValue, string(hashType)).Scan(
		&e.TenantID, &hType, &e.HashValue, &lType, &e.Reason, &e.ThreatClassification, &e.AddedBy, &e.AddedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup hash list entry: %w", err)
	}
	e.HashType = types.HashType(hType)
	e.ListType = types.ListType(lType)
	return &e, nil
}

func (s *PGStore) UpsertHashListEntry(ctx context.Context, e *types.HashListEntry) error {
	const q = `
		INSERT INTO hash_lists (tenant_id, hash_type, hash_value, list_type, reason, threat_classification, added_by, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, hash_value, list_type) DO UPDATE SET
			hash_type = EXCLUDED.hash_type,
			reason = EXCLUDED.reason,
			threat_classification = EXCLUDED.threat_classification,
			added_by = EXCLUDED.added_by,
			added_at = EXCLUDED.added_at`
	_, err := s.pool.Exec(ctx, q, e.TenantID, string(e.HashType), e.HashValue, string(e.ListType), e.Reason, e.ThreatClassification, e.AddedBy, e.AddedAt)
	if err != nil {
		return fmt.Errorf("upsert hash list entry: %w", err)
	}
	return nil
}

var _ Store = (*PGStore)(nil)
