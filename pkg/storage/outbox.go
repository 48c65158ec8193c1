/*
Outbox implements the local durable queue behind C4's exactly-once-effective
bus publish (spec.md §4.1, §9 design note "outbox pattern"): ingest commits
the artifact row and an outbox intent in the same unit of work, then a
background reconciler drains the outbox to the bus and only removes an
intent once the publish is acknowledged. A crash between the Postgres
commit and the bus publish just leaves the intent to be retried — the bus
consumer side absorbs any resulting duplicate via insert-if-absent.

Postgres itself would serve this (an "outbox" table), but bbolt is kept
here as a local, dependency-free staging area for the one component
(ingest) that does not otherwise need a database round trip to decide
whether it has work to do, following the teacher's pattern of backing
each node's transient local state with an embedded bolt file.
*/
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketOutboxIntents = []byte("outbox_intents")

// OutboxIntent is one pending artifact.uploaded publish.
type OutboxIntent struct {
	ArtifactID string    `json:"artifact_id"`
	TenantID   string    `json:"tenant_id"`
	Subject    string    `json:"subject"`
	Payload    []byte    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

// Outbox is the bbolt-backed staging area for C4's at-least-once bus
// publish. It is local to one ingest process instance; the reconciler
// that drains it runs under raft leader election so only one instance
// drains at a time (spec.md §9).
type Outbox struct {
	db *bolt.DB
}

// NewOutbox opens (creating if absent) the bolt file at dbPath.
func NewOutbox(dbPath string) (*Outbox, error) {
	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open outbox db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOutboxIntents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create outbox bucket: %w", err)
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Close() error { return o.db.Close() }

// Put records a publish intent keyed by artifact ID. Re-putting the same
// artifact ID overwrites the prior intent, so ingest retries on the same
// upload never accumulate duplicate outbox rows.
func (o *Outbox) Put(intent OutboxIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal outbox intent: %w", err)
	}
	return o.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutboxIntents).Put([]byte(intent.ArtifactID), data)
	})
}

// Delete removes an intent once its publish has been acknowledged by the
// bus.
func (o *Outbox) Delete(artifactID string) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutboxIntents).Delete([]byte(artifactID))
	})
}

// IncrementAttempts bumps the retry counter on an intent still pending.
func (o *Outbox) IncrementAttempts(artifactID string) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOutboxIntents)
		data := b.Get([]byte(artifactID))
		if data == nil {
			return nil
		}
		var intent OutboxIntent
		if err := json.Unmarshal(data, &intent); err != nil {
			return fmt.Errorf("unmarshal outbox intent %s: %w", artifactID, err)
		}
		intent.Attempts++
		raw, err := json.Marshal(intent)
		if err != nil {
			return err
		}
		return b.Put([]byte(artifactID), raw)
	})
}

// Pending returns every intent still awaiting publish, oldest first. The
// reconciler calls this on a poll interval and on startup to resume after
// a crash.
func (o *Outbox) Pending() ([]OutboxIntent, error) {
	var out []OutboxIntent
	err := o.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOutboxIntents)
		return b.ForEach(func(k, v []byte) error {
			var intent OutboxIntent
			if err := json.Unmarshal(v, &intent); err != nil {
				return fmt.Errorf("unmarshal outbox intent %s: %w", k, err)
			}
			out = append(out, intent)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortIntentsByAge(out)
	return out, nil
}

// Depth returns the number of pending intents, for OutboxDepth gauge.
func (o *Outbox) Depth() (int, error) {
	n := 0
	err := o.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketOutboxIntents).Stats().KeyN
		return nil
	})
	return n, err
}

func sortIntentsByAge(intents []OutboxIntent) {
	for i := 1; i < len(intents); i++ {
		for j := i; j > 0 && intents[j].EnqueuedAt.Before(intents[j-1].EnqueuedAt); j-- {
			intents[j], intents[j-1] = intents[j-1], intents[j]
		}
	}
}

func ensureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0700)
}
