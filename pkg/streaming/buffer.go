package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// replayTTL is the spec.md §4.5 reconnection window: undelivered frames
// are retained for 5 minutes past their publish time.
const replayTTL = 5 * time.Minute

// sweepInterval governs the background GC loop, same ticker-loop idiom
// used for the outbox reconciler (pkg/ingest).
const sweepInterval = time.Minute

// ReplayBuffer retains per-subscription frames in a Redis sorted set
// (score = sequence number) so a reconnecting client can ask for
// everything after its last-seen sequence (spec.md §4.5 buffering and
// replay).
type ReplayBuffer struct {
	client *redis.Client
}

// NewReplayBuffer wraps an existing Redis client.
func NewReplayBuffer(client *redis.Client) *ReplayBuffer {
	return &ReplayBuffer{client: client}
}

func bufferKey(tenantID, artifactID string) string {
	return fmt.Sprintf("vigil:stream:%s:%s", tenantID, artifactID)
}

// Append stores frame under its subscription's sorted set, refreshing the
// key's TTL so the window is anchored to the most recent activity.
func (r *ReplayBuffer) Append(ctx context.Context, frame *Frame) error {
	data, err := json.Marshal(struct {
		*Frame
		ObservedAt time.Time `json:"observed_at"`
	}{frame, frame.ObservedAt})
	if err != nil {
		return fmt.Errorf("streaming: marshal frame: %w", err)
	}

	k := bufferKey(frame.TenantID, frame.ArtifactID)
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(frame.Seq), Member: data})
	pipe.Expire(ctx, k, replayTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("streaming: append frame: %w", err)
	}
	return nil
}

// Since returns every buffered frame for (tenantID, artifactID) with a
// sequence number strictly greater than lastSeq, in chronological order.
// A key past its TTL yields an empty, non-error result (lazy GC: the key
// simply no longer exists).
func (r *ReplayBuffer) Since(ctx context.Context, tenantID, artifactID string, lastSeq uint64) ([]*Frame, error) {
	k := bufferKey(tenantID, artifactID)
	members, err := r.client.ZRangeByScore(ctx, k, &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", lastSeq), // exclusive lower bound
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("streaming: range frames: %w", err)
	}

	frames := make([]*Frame, 0, len(members))
	for _, m := range members {
		var f Frame
		if err := json.Unmarshal([]byte(m), &f); err != nil {
			return nil, fmt.Errorf("streaming: unmarshal buffered frame: %w", err)
		}
		frames = append(frames, &f)
	}
	return frames, nil
}

// Sweep deletes sorted-set members older than the replay window from
// every buffered subscription key it encounters via SCAN. It runs
// periodically in the background; TTL expiry already reclaims whole
// keys, so Sweep only trims stale members of keys that are still
// receiving fresh activity (and therefore still alive under their TTL).
func (r *ReplayBuffer) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-replayTTL)
	iter := r.client.Scan(ctx, 0, "vigil:stream:*", 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if err := r.sweepKey(ctx, k, cutoff); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (r *ReplayBuffer) sweepKey(ctx context.Context, k string, cutoff time.Time) error {
	members, err := r.client.ZRangeWithScores(ctx, k, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("streaming: sweep scan %s: %w", k, err)
	}
	for _, m := range members {
		var f struct {
			ObservedAt time.Time `json:"observed_at"`
		}
		if err := json.Unmarshal([]byte(m.Member.(string)), &f); err != nil {
			continue
		}
		if f.ObservedAt.Before(cutoff) {
			r.client.ZRem(ctx, k, m.Member)
		}
	}
	return nil
}

// RunSweeper runs Sweep on sweepInterval until ctx is cancelled.
func (r *ReplayBuffer) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = r.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}
