package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBuffer(t *testing.T) (*ReplayBuffer, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewReplayBuffer(client), mr
}

func TestAppendAndSinceReturnsNewerFrames(t *testing.T) {
	buf, _ := newTestBuffer(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 3; seq++ {
		f := &Frame{Type: FrameProgress, TenantID: "t", ArtifactID: "a", Seq: seq, ObservedAt: time.Now()}
		if err := buf.Append(ctx, f); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	frames, err := buf.Since(ctx, "t", "a", 1)
	if err != nil {
		t.Fatalf("Since() error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("len(frames) = %d, want 2", len(frames))
	}
	if frames[0].Seq != 2 || frames[1].Seq != 3 {
		t.Fatalf("unexpected sequence order: %+v", frames)
	}
}

func TestSinceOnExpiredKeyReturnsEmpty(t *testing.T) {
	buf, mr := newTestBuffer(t)
	ctx := context.Background()

	f := &Frame{Type: FrameProgress, TenantID: "t", ArtifactID: "a", Seq: 1, ObservedAt: time.Now()}
	if err := buf.Append(ctx, f); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	mr.FastForward(replayTTL + time.Second)

	frames, err := buf.Since(ctx, "t", "a", 0)
	if err != nil {
		t.Fatalf("Since() error: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("len(frames) = %d, want 0 after TTL expiry", len(frames))
	}
}

func TestSweepRemovesStaleMembersOfLiveKeys(t *testing.T) {
	buf, _ := newTestBuffer(t)
	ctx := context.Background()

	stale := &Frame{Type: FrameProgress, TenantID: "t", ArtifactID: "a", Seq: 1, ObservedAt: time.Now().Add(-replayTTL - time.Minute)}
	fresh := &Frame{Type: FrameProgress, TenantID: "t", ArtifactID: "a", Seq: 2, ObservedAt: time.Now()}
	if err := buf.Append(ctx, stale); err != nil {
		t.Fatalf("Append(stale) error: %v", err)
	}
	if err := buf.Append(ctx, fresh); err != nil {
		t.Fatalf("Append(fresh) error: %v", err)
	}

	if err := buf.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}

	frames, err := buf.Since(ctx, "t", "a", 0)
	if err != nil {
		t.Fatalf("Since() error: %v", err)
	}
	if len(frames) != 1 || frames[0].Seq != 2 {
		t.Fatalf("expected only the fresh frame to survive, got %+v", frames)
	}
}
