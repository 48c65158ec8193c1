package streaming

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuemby/vigil/pkg/storage"
	"github.com/cuemby/vigil/pkg/types"
)

// fakeStore implements storage.Store far enough for gateway tests:
// GetArtifactByID resolves only artifacts explicitly registered under a
// tenant, modeling the tenant-scoped query predicate every real Store
// method enforces.
type fakeStore struct {
	artifacts map[string]map[string]*types.Artifact // tenantID -> artifactID -> artifact
}

func newFakeStore() *fakeStore {
	return &fakeStore{artifacts: make(map[string]map[string]*types.Artifact)}
}

func (f *fakeStore) put(tenantID, artifactID string) {
	if f.artifacts[tenantID] == nil {
		f.artifacts[tenantID] = make(map[string]*types.Artifact)
	}
	f.artifacts[tenantID][artifactID] = &types.Artifact{ID: artifactID, TenantID: tenantID}
}

func (f *fakeStore) CreateArtifact(ctx context.Context, a *types.Artifact) (bool, error) { return false, nil }

func (f *fakeStore) GetArtifactByID(ctx context.Context, tenantID, id string) (*types.Artifact, error) {
	if a, ok := f.artifacts[tenantID][id]; ok {
		return a, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetArtifactBySHA256(ctx context.Context, tenantID, sha256 string) (*types.Artifact, error) {
	return nil, storage.ErrNotFound
}
func (f *fakeStore) InsertStaticReport(ctx context.Context, r *types.StaticReport) error { return nil }
func (f *fakeStore) LatestStaticReport(ctx context.Context, tenantID, artifactID string) (*types.StaticReport, error) {
	return nil, storage.ErrNotFound
}
func (f *fakeStore) InsertBehavioralReportIfAbsent(ctx context.Context, r *types.BehavioralReport) (bool, *types.BehavioralReport, error) {
	return false, nil, nil
}
func (f *fakeStore) LatestBehavioralReport(ctx context.Context, tenantID, artifactID string) (*types.BehavioralReport, error) {
	return nil, storage.ErrNotFound
}
func (f *fakeStore) UpsertVerdict(ctx context.Context, v *types.Verdict) (bool, error) { return true, nil }
func (f *fakeStore) LatestVerdict(ctx context.Context, tenantID, artifactID string) (*types.Verdict, error) {
	return nil, storage.ErrNotFound
}
func (f *fakeStore) LookupHashListEntry(ctx context.Context, tenantID string, hashType types.HashType, hashValue string) (*types.HashListEntry, error) {
	return nil, storage.ErrNotFound
}
func (f *fakeStore) UpsertHashListEntry(ctx context.Context, e *types.HashListEntry) error { return nil }
func (f *fakeStore) Ping(ctx context.Context) error                                        { return nil }
func (f *fakeStore) Close()                                                                {}

func newTestGateway(t *testing.T, store *fakeStore) (*Gateway, *Broker, string) {
	t.Helper()
	broker := NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	gw := NewGateway(broker, nil, store)

	srv := httptest.NewServer(authMiddleware(gw.Router()))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream"
	return gw, broker, wsURL
}

// authMiddleware stands in for the out-of-scope identity boundary: it
// reads X-Tenant-ID and attaches it to the request context the way a real
// auth layer would.
func authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get("X-Tenant-ID")
		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
	})
}

func dial(t *testing.T, url, tenantID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("X-Tenant-ID", tenantID)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial() error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGatewayRejectsCrossTenantSubscription(t *testing.T) {
	store := newFakeStore()
	store.put("tenant-b", "artifact-1")
	_, _, url := newTestGateway(t, store)

	conn := dial(t, url, "tenant-a")
	if err := conn.WriteJSON(subscribeRequest{Type: FrameSubscribe, ArtifactID: "artifact-1"}); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	if frame.Type != FrameError || frame.ErrorKind != "AuthorizationError" {
		t.Fatalf("frame = %+v, want AuthorizationError", frame)
	}
}

func TestGatewayDeliversLiveProgressFrame(t *testing.T) {
	store := newFakeStore()
	store.put("tenant-a", "artifact-1")
	_, broker, url := newTestGateway(t, store)

	conn := dial(t, url, "tenant-a")
	if err := conn.WriteJSON(subscribeRequest{Type: FrameSubscribe, ArtifactID: "artifact-1"}); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}

	// give the server goroutine time to register the subscription
	time.Sleep(50 * time.Millisecond)
	broker.Publish(&Frame{Type: FrameProgress, TenantID: "tenant-a", ArtifactID: "artifact-1", Stage: StageStatic, Percent: 40})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	if frame.Type != FrameProgress || frame.Stage != StageStatic {
		t.Fatalf("frame = %+v, want a static progress frame", frame)
	}
}
