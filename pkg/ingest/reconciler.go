package ingest

import (
	"context"
	"time"

	"github.com/cuemby/vigil/pkg/bus"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/manager"
	"github.com/cuemby/vigil/pkg/metrics"
	"github.com/cuemby/vigil/pkg/storage"
)

const (
	reconcileInterval = 5 * time.Second
	maxOutboxAttempts  = 10
)

// OutboxReconciler drains Outbox intents onto the bus. Only the elected
// leader among ingest replicas drains (spec.md §9); every replica still
// runs the loop so leadership failover resumes draining immediately.
type OutboxReconciler struct {
	outbox  *storage.Outbox
	bus     *bus.Bus
	elector *manager.Elector
	stopCh  chan struct{}
}

// NewOutboxReconciler builds a reconciler bound to outbox/b, gated by
// elector's leadership.
func NewOutboxReconciler(outbox *storage.Outbox, b *bus.Bus, elector *manager.Elector) *OutboxReconciler {
	return &OutboxReconciler{outbox: outbox, bus: b, elector: elector, stopCh: make(chan struct{})}
}

// Start runs the reconcile loop in a background goroutine.
func (r *OutboxReconciler) Start() {
	go r.run()
}

// Stop ends the loop.
func (r *OutboxReconciler) Stop() {
	close(r.stopCh)
}

func (r *OutboxReconciler) run() {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	logger := log.WithComponent("ingest.outbox_reconciler")
	logger.Info().Msg("outbox reconciler started")

	for {
		select {
		case <-ticker.C:
			if !r.elector.IsLeader() {
				continue
			}
			if err := r.reconcileOnce(); err != nil {
				logger.Error().Err(err).Msg("outbox reconcile cycle failed")
			}
		case <-r.stopCh:
			logger.Info().Msg("outbox reconciler stopped")
			return
		}
	}
}

func (r *OutboxReconciler) reconcileOnce() error {
	depth, err := r.outbox.Depth()
	if err != nil {
		return err
	}
	metrics.OutboxDepth.Set(float64(depth))

	pending, err := r.outbox.Pending()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, intent := range pending {
		if err := r.bus.PublishRaw(ctx, intent.Subject, intent.Payload); err != nil {
			if intent.Attempts >= maxOutboxAttempts {
				log.WithArtifactID(intent.ArtifactID).Error().Err(err).
					Msg("outbox intent exceeded max attempts, leaving for operator inspection")
				continue
			}
			_ = r.outbox.IncrementAttempts(intent.ArtifactID)
			continue
		}
		_ = r.outbox.Delete(intent.ArtifactID)
	}
	return nil
}
