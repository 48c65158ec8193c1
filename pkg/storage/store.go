/*
Package storage defines Vigil's metadata store (C2, spec.md §3, §6):
a tenant-isolated, relational, persistent record of artifacts, reports,
verdicts, and allow/deny lists. This file defines the Store interface;
postgres.go implements it against Postgres via pgx.

Every method takes tenantID explicitly and the implementation is
required to fold it into the query predicate — "session context must set
the active tenant_id before any query" (spec.md §6) is realized here as
"every query carries tenant_id as a bind parameter," which is simpler to
audit than a session-local GUC and just as effective at the Go layer
since pgxpool connections are not held across requests.
*/
package storage

import (
	"context"
	"errors"

	"github.com/cuemby/vigil/pkg/types"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("storage: not found")

// Store is the tenant-scoped interface every metadata operation goes
// through. All List methods return only rows owned by the given tenant
// (spec.md §8 invariant 3).
type Store interface {
	// Artifacts
	CreateArtifact(ctx context.Context, a *types.Artifact) (created bool, err error)
	GetArtifactByID(ctx context.Context, tenantID, id string) (*types.Artifact, error)
	GetArtifactBySHA256(ctx context.Context, tenantID, sha256 string) (*types.Artifact, error)

	// Static reports
	InsertStaticReport(ctx context.Context, r *types.StaticReport) error
	LatestStaticReport(ctx context.Context, tenantID, artifactID string) (*types.StaticReport, error)

	// Behavioral reports
	InsertBehavioralReportIfAbsent(ctx context.Context, r *types.BehavioralReport) (inserted bool, existing *types.BehavioralReport, err error)
	LatestBehavioralReport(ctx context.Context, tenantID, artifactID string) (*types.BehavioralReport, error)

	// Verdicts
	UpsertVerdict(ctx context.Context, v *types.Verdict) (changed bool, err error)
	LatestVerdict(ctx context.Context, tenantID, artifactID string) (*types.Verdict, error)

	// Hash lists
	LookupHashListEntry(ctx context.Context, tenantID string, hashType types.HashType, hashValue string) (*types.HashListEntry, error)
	UpsertHashListEntry(ctx context.Context, e *types.HashListEntry) error

	// Utility
	Ping(ctx context.Context) error
	Close()
}
