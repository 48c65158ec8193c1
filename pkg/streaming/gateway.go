package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/storage"
)

// pushTimeout is the spec.md §5 per-message streaming push budget.
const pushTimeout = 5 * time.Second

// tenantContextKey is where the upstream identity boundary (out of
// scope here; spec.md Non-goals) is expected to have placed the
// caller's authenticated tenant ID before the request reaches Gateway.
type tenantContextKey struct{}

// TenantFromContext extracts the authenticated tenant ID an upstream
// auth layer attached to ctx. Middleware providing this value is not
// part of this package.
func TenantFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantContextKey{}).(string)
	return id, ok
}

// WithTenant attaches tenantID to ctx, for callers (tests, the future
// auth middleware) that need to construct one.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenantID)
}

// Gateway serves the /v1/stream WebSocket route, bridging Broker
// subscriptions and ReplayBuffer replay onto client connections
// (spec.md §4.5, §6).
type Gateway struct {
	broker   *Broker
	buffer   *ReplayBuffer
	store    storage.Store
	upgrader websocket.Upgrader
}

// NewGateway builds a Gateway. store is used to reject cross-tenant
// subscription attempts (spec.md §8 scenario 6).
func NewGateway(broker *Broker, buffer *ReplayBuffer, store storage.Store) *Gateway {
	return &Gateway{
		broker: broker,
		buffer: buffer,
		store:  store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router returns the chi router exposing /v1/stream.
func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Get("/v1/stream", g.handleStream)
	return r
}

type subscribeRequest struct {
	Type       FrameType `json:"type"`
	ArtifactID string    `json:"artifact_id"`
	LastSeq    uint64    `json:"last_seq"`
}

func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := TenantFromContext(r.Context())
	if !ok || tenantID == "" {
		http.Error(w, "missing tenant context", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("streaming.gateway").Warn().Err(err).Msg("streaming: websocket upgrade failed")
		return
	}
	defer conn.Close()

	var req subscribeRequest
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	if req.Type != FrameSubscribe || req.ArtifactID == "" {
		g.writeFrame(conn, &Frame{Type: FrameError, ErrorKind: "ProtocolError", Message: "expected subscribe frame"})
		return
	}

	if _, err := g.store.GetArtifactByID(r.Context(), tenantID, req.ArtifactID); err != nil {
		g.writeFrame(conn, &Frame{
			Type:       FrameError,
			ArtifactID: req.ArtifactID,
			ErrorKind:  "AuthorizationError",
			Message:    "artifact not found for tenant",
		})
		return
	}

	g.serveSubscription(r.Context(), conn, tenantID, req.ArtifactID, req.LastSeq)
}

func (g *Gateway) serveSubscription(ctx context.Context, conn *websocket.Conn, tenantID, artifactID string, lastSeq uint64) {
	sub, unsubscribe := g.broker.Subscribe(tenantID, artifactID)
	defer unsubscribe()

	if g.buffer != nil {
		replay, err := g.buffer.Since(ctx, tenantID, artifactID, lastSeq)
		if err != nil {
			log.WithArtifactID(artifactID).Warn().Err(err).Msg("streaming: replay lookup failed")
		}
		for _, f := range replay {
			if !g.writeFrame(conn, f) {
				return
			}
			if f.Seq > lastSeq {
				lastSeq = f.Seq
			}
		}
	}

	for {
		select {
		case frame, open := <-sub:
			if !open {
				return
			}
			if frame.Seq <= lastSeq {
				continue // already delivered via replay
			}
			if !g.writeFrame(conn, frame) {
				return
			}
			lastSeq = frame.Seq
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) writeFrame(conn *websocket.Conn, frame *Frame) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(pushTimeout))
	data, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	return conn.WriteMessage(websocket.TextMessage, data) == nil
}
