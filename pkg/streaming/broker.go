package streaming

import (
	"sync"
	"time"

	"github.com/cuemby/vigil/pkg/types"
)

// FrameType identifies the kind of streaming channel wire frame
// (spec.md §6 streaming channel wire format).
type FrameType string

const (
	FrameSubscribe FrameType = "subscribe"
	FrameProgress  FrameType = "progress"
	FrameVerdict   FrameType = "verdict"
	FrameError     FrameType = "error"
)

// Stage is one of the pipeline stages a progress frame can report.
type Stage string

const (
	StageIngested     Stage = "ingested"
	StageStatic       Stage = "static"
	StageDynamic      Stage = "dynamic"
	StageSynthesizing Stage = "synthesizing"
)

// Frame is one message on a (tenant_id, artifact_id) subscription.
// Seq is monotonic within the subscription and is how the reconnection
// buffer and subscribers suppress duplicates.
type Frame struct {
	Type       FrameType       `json:"type"`
	ArtifactID string          `json:"artifact_id"`
	TenantID   string          `json:"-"`
	Seq        uint64          `json:"seq"`
	Stage      Stage           `json:"stage,omitempty"`
	Percent    int             `json:"percent,omitempty"`
	Verdict    *types.Verdict  `json:"verdict,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	Message    string          `json:"message,omitempty"`
	ObservedAt time.Time       `json:"-"`
}

// Subscriber is a channel that receives frames for one subscription.
type Subscriber chan *Frame

// subscriberBufferSize matches warren's pkg/events.Broker per-subscriber
// buffer; streaming frames are small and bursts are short-lived (one
// artifact's pipeline run).
const subscriberBufferSize = 50

// Broker fans progress and verdict frames out to every subscriber of a
// given (tenant_id, artifact_id), generalizing warren's single
// global-subscriber-set pkg/events.Broker into one subscriber set per
// subscription key.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[Subscriber]bool
	seq         map[string]uint64
	frameCh     chan *Frame
	stopCh      chan struct{}
}

// NewBroker builds a Broker. Call Start to begin the distribution loop.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]map[Subscriber]bool),
		seq:         make(map[string]uint64),
		frameCh:     make(chan *Frame, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's fan-out loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts the fan-out loop. Subsequent Publish calls are no-ops.
func (b *Broker) Stop() {
	close(b.stopCh)
}

func key(tenantID, artifactID string) string {
	return tenantID + ":" + artifactID
}

// Subscribe registers a new subscriber for (tenantID, artifactID) and
// returns its channel plus an unsubscribe function the caller must run
// when the connection closes.
func (b *Broker) Subscribe(tenantID, artifactID string) (Subscriber, func()) {
	k := key(tenantID, artifactID)
	sub := make(Subscriber, subscriberBufferSize)

	b.mu.Lock()
	if b.subscribers[k] == nil {
		b.subscribers[k] = make(map[Subscriber]bool)
	}
	b.subscribers[k][sub] = true
	b.mu.Unlock()

	return sub, func() { b.unsubscribe(k, sub) }
}

func (b *Broker) unsubscribe(k string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subscribers[k]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subscribers, k)
		}
	}
	close(sub)
}

// Publish assigns the next monotonic sequence number for the frame's
// subscription and enqueues it for fan-out. The caller need not set Seq;
// it is overwritten here.
func (b *Broker) Publish(frame *Frame) uint64 {
	k := key(frame.TenantID, frame.ArtifactID)

	b.mu.Lock()
	b.seq[k]++
	frame.Seq = b.seq[k]
	b.mu.Unlock()

	if frame.ObservedAt.IsZero() {
		frame.ObservedAt = time.Now()
	}

	select {
	case b.frameCh <- frame:
	case <-b.stopCh:
	}
	return frame.Seq
}

// CurrentSeq returns the last sequence number issued for (tenantID,
// artifactID), or 0 if no frame has been published yet.
func (b *Broker) CurrentSeq(tenantID, artifactID string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq[key(tenantID, artifactID)]
}

func (b *Broker) run() {
	for {
		select {
		case frame := <-b.frameCh:
			b.broadcast(frame)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(frame *Frame) {
	k := key(frame.TenantID, frame.ArtifactID)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[k] {
		select {
		case sub <- frame:
		default:
			// subscriber buffer full, drop; the reconnection buffer is the
			// durability mechanism, not this channel.
		}
	}
}

// SubscriberCount reports how many live subscribers exist for
// (tenantID, artifactID), for tests and diagnostics.
func (b *Broker) SubscriberCount(tenantID, artifactID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[key(tenantID, artifactID)])
}
