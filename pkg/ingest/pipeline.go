/*
Package ingest implements C4 (spec.md §4.1): a multipart upload becomes a
tracking ID within 1s, then streams to hashing + object storage + a
metadata row + a bus publish in the background. Steps 4-6 of the
protocol are retried independently and are each individually idempotent,
so a crash mid-pipeline just means the next attempt redoes whichever step
didn't durably land.
*/
package ingest

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/vigil/pkg/bus"
	"github.com/cuemby/vigil/pkg/ingest/fuzzyhash"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/metrics"
	"github.com/cuemby/vigil/pkg/objectstore"
	"github.com/cuemby/vigil/pkg/security"
	"github.com/cuemby/vigil/pkg/storage"
	"github.com/cuemby/vigil/pkg/types"
	"github.com/cuemby/vigil/pkg/vigilerr"
)

const maxArtifactBytes = 500 << 20 // 500 MB, spec.md §4.1 input bound

// errTooLarge marks an upload that exceeded maxArtifactBytes, distinct
// from a genuine read failure so Run can surface it as a non-retryable
// InvalidArtifact error rather than a retryable IngestError (spec.md §8:
// "500 MB + 1 byte is rejected with InvalidArtifact").
var errTooLarge = fmt.Errorf("upload exceeds %d byte limit", maxArtifactBytes)

// Upload describes one incoming multipart request, already authenticated
// against (user_id, tenant_id) by the external auth collaborator
// (spec.md §6 — out of scope here, assumed already resolved).
type Upload struct {
	TenantID     string
	UploadedBy   string
	DeclaredMIME string
	Body         io.Reader
}

// Pipeline wires the C4 dependencies together.
type Pipeline struct {
	store   storage.Store
	objects *objectstore.Store
	bus     *bus.Bus
	outbox  *storage.Outbox
	keys    *security.TenantKeyProvider
}

// New builds a Pipeline. keys seals every artifact's bytes under its
// tenant's derived key before the object-store put (spec.md §6).
func New(store storage.Store, objects *objectstore.Store, b *bus.Bus, outbox *storage.Outbox, keys *security.TenantKeyProvider) *Pipeline {
	return &Pipeline{store: store, objects: objects, bus: b, outbox: outbox, keys: keys}
}

// Accept assigns a tracking ID, returned to the client within 1s; Run
// performs the remaining protocol steps and should be invoked in a
// background goroutine bound to the same ID (spec.md §4.1 step 1).
func Accept() string {
	return uuid.New().String()
}

// Run executes protocol steps 2-6 for one upload. Errors are
// vigilerr-typed so callers can route them to the streaming fabric's
// terminal error frame.
func (p *Pipeline) Run(ctx context.Context, trackingID string, up Upload) (artifactID string, err error) {
	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	timer := metrics.NewTimer()
	defer func() {
		if err == nil {
			timer.ObserveDuration(metrics.IngestDuration)
		} else {
			metrics.IngestFailuresTotal.WithLabelValues(string(vigilerr.KindOf(err))).Inc()
		}
	}()

	content, sha, md, ssdeep, err := hashAll(up.Body)
	if errors.Is(err, errTooLarge) {
		return "", vigilerr.InvalidArtifact(err.Error(), nil)
	}
	if err != nil {
		return "", vigilerr.Ingest("stream and hash upload", err)
	}

	headLen := 512
	if len(content) < headLen {
		headLen = len(content)
	}
	sniffed := SniffFileType(content[:headLen])
	if Masquerades(sniffed, up.DeclaredMIME) {
		return "", vigilerr.InvalidArtifact(fmt.Sprintf(
			"declared MIME %q disagrees with sniffed type %q", up.DeclaredMIME, sniffed.Kind), nil)
	}

	artifact := &types.Artifact{
		ID:         uuid.New().String(),
		TenantID:   up.TenantID,
		SHA256:     sha,
		MD5:        md,
		SSDeep:     ssdeep,
		Size:       int64(len(content)),
		MIME:       up.DeclaredMIME,
		UploadedBy: up.UploadedBy,
		UploadedAt: time.Now().UTC(),
	}
	artifact.StorageKey = objectstore.ArtifactKey(artifact.TenantID, artifact.ID, artifact.UploadedAt)

	cipher, err := p.keys.Cipher(artifact.TenantID)
	if err != nil {
		return "", vigilerr.Ingest("derive tenant cipher", err)
	}
	sealed, err := cipher.Encrypt(content)
	if err != nil {
		return "", vigilerr.Ingest("seal artifact under tenant key", err)
	}

	// Step 4: upload to object store before the metadata commit, so a
	// dangling metadata row never points at a missing blob. The key embeds
	// the artifact ID assigned above, so retries of this put overwrite the
	// same object. artifact.Size records the plaintext length;
	// the stored blob is the tenant-sealed ciphertext, slightly larger.
	if err := p.objects.Put(ctx, artifact.StorageKey, bytes.NewReader(sealed), int64(len(sealed))); err != nil {
		return "", vigilerr.Ingest("upload artifact to object store", err)
	}

	// Step 5: insert-if-absent on (tenant_id, sha256).
	created, err := p.store.CreateArtifact(ctx, artifact)
	if err != nil {
		return "", vigilerr.Store("persist artifact metadata", err)
	}
	if !created {
		metrics.IngestDeduplicatedTotal.Inc()
		log.WithArtifactID(artifact.ID).Info().Str("tenant_id", artifact.TenantID).Msg("ingest: deduplicated upload")
		return artifact.ID, nil
	}

	// Step 6: publish, falling back to the outbox on failure so the
	// publish is exactly-once-effective rather than lost.
	event := bus.ArtifactUploadedEvent{
		ArtifactID: artifact.ID,
		TenantID:   artifact.TenantID,
		SHA256:     artifact.SHA256,
		StorageKey: artifact.StorageKey,
	}
	if err := p.bus.Publish(ctx, bus.SubjectArtifactUploaded, event); err != nil {
		payload, marshalErr := json.Marshal(event)
		if marshalErr != nil {
			return artifact.ID, vigilerr.Bus("marshal outbox payload", marshalErr)
		}
		if outboxErr := p.outbox.Put(storage.OutboxIntent{
			ArtifactID: artifact.ID,
			TenantID:   artifact.TenantID,
			Subject:    bus.SubjectArtifactUploaded,
			Payload:    payload,
			EnqueuedAt: time.Now().UTC(),
		}); outboxErr != nil {
			return artifact.ID, vigilerr.Bus("publish artifact.uploaded and stage outbox intent", outboxErr)
		}
		log.WithArtifactID(artifact.ID).Warn().Msg("ingest: bus publish failed, staged to outbox")
	}

	return artifact.ID, nil
}

// hashAll reads body fully, computing sha256/md5/fuzzyhash over a single
// pass. The full content is retained in memory (bounded by
// maxArtifactBytes) since the object-store put and fuzzy hash both need
// random access to it; the object store, not this buffer, is the durable
// copy.
func hashAll(body io.Reader) (content []byte, sha, md, ssdeep string, err error) {
	limited := io.LimitReader(body, maxArtifactBytes+1)
	shaHash := sha256.New()
	mdHash := md5.New()

	content, err = io.ReadAll(io.TeeReader(io.TeeReader(limited, shaHash), mdHash))
	if err != nil {
		return nil, "", "", "", fmt.Errorf("read upload body: %w", err)
	}
	if int64(len(content)) > maxArtifactBytes {
		return nil, "", "", "", errTooLarge
	}

	return content,
		hex.EncodeToString(shaHash.Sum(nil)),
		hex.EncodeToString(mdHash.Sum(nil)),
		fuzzyhash.Digest(content),
		nil
}
