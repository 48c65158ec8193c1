/*
Package bus implements C3, the durable message fabric every component
coordinates through (spec.md §2, §4.0): components never call each other
synchronously, only publish and consume subjects here. Delivery is
at-least-once — a redelivered message is expected and must be absorbed by
idempotent consumers (pkg/storage's insert-if-absent methods) rather than
prevented at the bus layer.
*/
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cuemby/vigil/pkg/metrics"
	"github.com/cuemby/vigil/pkg/shared/workerpool"
)

// Subjects used across the pipeline (spec.md §4.1-§4.5).
const (
	SubjectArtifactUploaded    = "vigil.artifact.uploaded"
	SubjectStaticComplete      = "vigil.analysis.static.complete"
	SubjectDynamicRequested    = "vigil.analysis.dynamic.requested"
	SubjectDynamicComplete     = "vigil.analysis.dynamic.complete"
	SubjectVerdictGenerated    = "vigil.verdict.generated"
	SubjectDLQ                 = "vigil.dlq"
	HeaderRetryCount           = "X-Vigil-Retry-Count"
	MaxDeliveryAttempts        = 5
)

// Bus wraps a JetStream context bound to one stream spanning every vigil
// subject, so every subscriber gets durable, replayable delivery.
type Bus struct {
	conn        *nats.Conn
	js          nats.JetStreamContext
	concurrency int
}

// Connect dials url and ensures the configured stream exists, creating it
// on first run. concurrency bounds how many deliveries Subscribe runs at
// once per consumer (spec.md §5 resource model: a burst of uploads must
// not spin up unbounded handler goroutines against fixed sandbox/database
// capacity); values <= 0 fall back to 1.
func Connect(url, streamName string, concurrency int) (*Bus, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	conn, err := nats.Connect(url, nats.Name("vigil"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to bus: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open jetstream context: %w", err)
	}

	_, err = js.StreamInfo(streamName)
	if err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     streamName,
			Subjects: []string{"vigil.>"},
			Storage:  nats.FileStorage,
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create stream %s: %w", streamName, err)
		}
	}

	return &Bus{conn: conn, js: js, concurrency: concurrency}, nil
}

// Close drains and closes the underlying connection.
func (b *Bus) Close() {
	_ = b.conn.Drain()
}

// Ping reports whether the bus connection is currently up, for health
// checks.
func (b *Bus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("bus: not connected")
	}
	return nil
}

// Publish marshals payload as JSON and publishes it to subject, recording
// the outcome under BusPublishTotal.
func (b *Bus) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.BusPublishTotal.WithLabelValues(subject, "marshal_error").Inc()
		return fmt.Errorf("marshal payload for %s: %w", subject, err)
	}

	_, err = b.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		metrics.BusPublishTotal.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	metrics.BusPublishTotal.WithLabelValues(subject, "ok").Inc()
	return nil
}

// PublishRaw publishes pre-marshaled data to subject, for callers (the
// outbox reconciler) that already persisted the encoded payload and must
// not re-encode it differently on retry.
func (b *Bus) PublishRaw(ctx context.Context, subject string, data []byte) error {
	_, err := b.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		metrics.BusPublishTotal.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	metrics.BusPublishTotal.WithLabelValues(subject, "ok").Inc()
	return nil
}

// Handler processes one delivered message. Returning an error leaves the
// message unacked so JetStream redelivers it; returning nil acks it.
type Handler func(ctx context.Context, data []byte) error

// Subscribe creates (or reuses) a durable pull consumer named
// consumerGroup on subject and runs handler for each delivery until ctx is
// cancelled. Deliveries run across a workerpool.Pool bounded to b.concurrency
// so a burst of messages cannot outrun the fixed sandbox/database capacity
// behind the handler. A message whose handler fails on its
// MaxDeliveryAttempts-th delivery is published to SubjectDLQ as a JSON
// envelope (original subject, error text, attempt count, payload) and
// acked instead of being redelivered forever.
func (b *Bus) Subscribe(ctx context.Context, subject, consumerGroup string, handler Handler) error {
	sub, err := b.js.PullSubscribe(subject, consumerGroup, nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		return fmt.Errorf("pull-subscribe %s/%s: %w", subject, consumerGroup, err)
	}

	pool := workerpool.New(ctx, b.concurrency, b.concurrency*2)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msgs, err := sub.Fetch(b.concurrency, nats.MaxWait(2*time.Second))
			if err != nil {
				continue // timeout or transient fetch error, retry
			}

			for _, msg := range msgs {
				msg := msg
				pool.Submit(ctx, func(ctx context.Context) {
					b.deliver(ctx, msg, subject, handler)
				})
			}
		}
	}()
	return nil
}

func (b *Bus) deliver(ctx context.Context, msg *nats.Msg, subject string, handler Handler) {
	meta, err := msg.Metadata()
	attempts := 1
	if err == nil {
		attempts = int(meta.NumDelivered)
	}

	if err := handler(ctx, msg.Data); err != nil {
		metrics.BusAckTotal.WithLabelValues(subject, "error").Inc()
		if attempts >= MaxDeliveryAttempts {
			b.toDeadLetter(ctx, subject, msg.Data, err, attempts)
			_ = msg.Ack() // stop redelivery, failure is now recorded on the DLQ
			return
		}
		_ = msg.Nak()
		return
	}

	metrics.BusAckTotal.WithLabelValues(subject, "ok").Inc()
	_ = msg.Ack()
}

type deadLetter struct {
	Subject  string `json:"subject"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
	Payload  []byte `json:"payload"`
}

func (b *Bus) toDeadLetter(ctx context.Context, subject string, payload []byte, cause error, attempts int) {
	_ = b.Publish(ctx, SubjectDLQ, deadLetter{
		Subject:  subject,
		Error:    cause.Error(),
		Attempts: attempts,
		Payload:  payload,
	})
}
