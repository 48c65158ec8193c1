package objectstore

import (
	"testing"
	"time"
)

func TestArtifactKey(t *testing.T) {
	uploadedAt := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	key := ArtifactKey("tenant-a", "artifact-123", uploadedAt)

	want := "tenant-a/artifacts/2026/03/05/artifact-123"
	if key != want {
		t.Errorf("ArtifactKey() = %q, want %q", key, want)
	}
}

func TestArtifactKey_TenantScoped(t *testing.T) {
	uploadedAt := time.Now()
	keyA := ArtifactKey("tenant-a", "artifact-same-id", uploadedAt)
	keyB := ArtifactKey("tenant-b", "artifact-same-id", uploadedAt)

	if keyA == keyB {
		t.Error("expected distinct tenants to produce distinct storage keys for the same artifact ID")
	}
}

func TestReportKey(t *testing.T) {
	key := ReportKey("tenant-a", "artifact-123", "report-456")
	want := "tenant-a/reports/artifact-123/report-456"
	if key != want {
		t.Errorf("ReportKey() = %q, want %q", key, want)
	}
}

func TestReportKey_TenantScoped(t *testing.T) {
	keyA := ReportKey("tenant-a", "artifact-123", "report-456")
	keyB := ReportKey("tenant-b", "artifact-123", "report-456")

	if keyA == keyB {
		t.Error("expected distinct tenants to produce distinct report storage keys")
	}
}
