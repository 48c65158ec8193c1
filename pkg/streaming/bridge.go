package streaming

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/vigil/pkg/bus"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/storage"
)

// Bridge subscribes to the bus subjects that carry progress and verdict
// information and republishes them onto the Broker (and, when a replay
// buffer is configured, persists them for reconnecting clients). It is
// the one place C9 touches the bus directly; Gateway only ever talks to
// Broker and ReplayBuffer.
//
// Bridge is level-triggered the same way the verdict synthesizer is: the
// verdict.generated event is a trigger to re-read the store, not a
// payload trusted wholesale, so the frame it emits always carries the
// full current verdict record with evidence (spec.md §6).
type Bridge struct {
	broker *Broker
	buffer *ReplayBuffer
	store  storage.Store
}

// NewBridge builds a Bridge. buffer may be nil, in which case frames are
// fanned out live only, with no reconnection replay.
func NewBridge(broker *Broker, buffer *ReplayBuffer, store storage.Store) *Bridge {
	return &Bridge{broker: broker, buffer: buffer, store: store}
}

// Run subscribes to every subject C9 needs and blocks until ctx is
// cancelled.
func (br *Bridge) Run(ctx context.Context, b *bus.Bus) error {
	subs := []struct {
		subject string
		group   string
		handle  bus.Handler
	}{
		{bus.SubjectArtifactUploaded, "streaming.ingested", br.onArtifactUploaded},
		{bus.SubjectStaticComplete, "streaming.static", br.onAnalysisComplete},
		{bus.SubjectDynamicRequested, "streaming.dynamic-requested", br.onDynamicRequested},
		{bus.SubjectDynamicComplete, "streaming.dynamic", br.onAnalysisComplete},
		{bus.SubjectVerdictGenerated, "streaming.verdict", br.onVerdictGenerated},
	}

	for _, s := range subs {
		if err := b.Subscribe(ctx, s.subject, s.group, s.handle); err != nil {
			return fmt.Errorf("streaming: subscribe %s: %w", s.subject, err)
		}
	}

	<-ctx.Done()
	return nil
}

func (br *Bridge) onArtifactUploaded(ctx context.Context, data []byte) error {
	var ev bus.ArtifactUploadedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("unmarshal artifact uploaded event: %w", err)
	}
	br.publish(ctx, &Frame{
		Type:       FrameProgress,
		TenantID:   ev.TenantID,
		ArtifactID: ev.ArtifactID,
		Stage:      StageIngested,
		Percent:    10,
	})
	return nil
}

func (br *Bridge) onDynamicRequested(ctx context.Context, data []byte) error {
	var ev bus.DynamicRequestedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("unmarshal dynamic requested event: %w", err)
	}
	br.publish(ctx, &Frame{
		Type:       FrameProgress,
		TenantID:   ev.TenantID,
		ArtifactID: ev.ArtifactID,
		Stage:      StageDynamic,
		Percent:    50,
	})
	return nil
}

func (br *Bridge) onAnalysisComplete(ctx context.Context, data []byte) error {
	var ev bus.AnalysisCompleteEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("unmarshal analysis complete event: %w", err)
	}

	stage, percent := StageStatic, 40
	if ev.Phase == bus.PhaseDynamic {
		stage, percent = StageSynthesizing, 90
	}
	br.publish(ctx, &Frame{
		Type:       FrameProgress,
		TenantID:   ev.TenantID,
		ArtifactID: ev.ArtifactID,
		Stage:      stage,
		Percent:    percent,
	})
	return nil
}

func (br *Bridge) onVerdictGenerated(ctx context.Context, data []byte) error {
	var ev bus.VerdictGeneratedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("unmarshal verdict generated event: %w", err)
	}

	v, err := br.store.LatestVerdict(ctx, ev.TenantID, ev.ArtifactID)
	if err != nil {
		return fmt.Errorf("streaming: load verdict for %s: %w", ev.ArtifactID, err)
	}

	br.publish(ctx, &Frame{
		Type:       FrameVerdict,
		TenantID:   ev.TenantID,
		ArtifactID: ev.ArtifactID,
		Verdict:    v,
	})
	return nil
}

func (br *Bridge) publish(ctx context.Context, frame *Frame) {
	br.broker.Publish(frame)
	if br.buffer == nil {
		return
	}
	if err := br.buffer.Append(ctx, frame); err != nil {
		log.WithArtifactID(frame.ArtifactID).Warn().Err(err).Msg("streaming: replay buffer append failed")
	}
}
