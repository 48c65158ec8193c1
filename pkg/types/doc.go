/*
Package types defines the core data structures used throughout Vigil.

This package contains the domain model shared by every pipeline stage:
tenants, artifacts, static and behavioral reports, verdicts, and hash-list
entries. These types are used for state persistence, bus payloads, and
streaming frames — they are the nouns every other package operates on.

# Architecture

	┌──────────────────────── DATA MODEL ───────────────────────────┐
	│                                                                 │
	│   Tenant ──owns──▶ Artifact ──produces──▶ StaticReport         │
	│                       │                         │               │
	│                       │                         ▼               │
	│                       └──produces──▶ BehavioralReport          │
	│                                            │                    │
	│                                            ▼                    │
	│                                       Verdict                   │
	│                                                                 │
	│   Tenant ──configures──▶ HashListEntry (Allow/Deny)             │
	│                                                                 │
	└─────────────────────────────────────────────────────────────────┘

All types are:
  - Serializable to JSON (bus payloads, streaming frames, report blobs)
  - Append-only or content-addressed where the spec requires it (artifacts,
    reports); verdicts gain new revisions rather than mutating in place
  - tenant_id-carrying: every record below Tenant itself is scoped to one
*/
package types
