/*
Package objectstore implements C1, the tenant-scoped blob store for
artifact bytes and oversized report fields (spec.md §4.0). Every key is
prefixed with the owning tenant's ID so a misconfigured bucket policy
fails closed rather than leaking across tenants, following the streaming
upload/download shape from the pack's blob-storage handlers, backed here
by S3-compatible object storage instead of an in-process service.
*/
package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cuemby/vigil/pkg/config"
	"github.com/cuemby/vigil/pkg/metrics"
	"github.com/cuemby/vigil/pkg/shared/retry"
)

// Store puts and gets tenant-scoped artifact/report blobs.
type Store struct {
	client *s3.Client
	bucket string
}

// New builds a Store from cfg, using static credentials when provided and
// falling back to the default AWS credential chain otherwise (so an IRSA
// or instance-profile deployment needs no config at all).
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load object store config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// ArtifactKey returns the tenant-scoped storage key for an uploaded
// artifact, partitioned by upload date so a single tenant's artifacts
// don't pile into one prefix indefinitely.
func ArtifactKey(tenantID, artifactID string, uploadedAt time.Time) string {
	return fmt.Sprintf("%s/artifacts/%04d/%02d/%02d/%s",
		tenantID, uploadedAt.Year(), uploadedAt.Month(), uploadedAt.Day(), artifactID)
}

// ReportKey returns the tenant-scoped storage key for an oversized report
// field (e.g. a full strings dump) kept out of Postgres.
func ReportKey(tenantID, artifactID, reportID string) string {
	return fmt.Sprintf("%s/reports/%s/%s", tenantID, artifactID, reportID)
}

// Put streams body to key, retrying transient failures under the standard
// backoff schedule.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	return retry.Do(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          body,
			ContentLength: aws.Int64(size),
		})
		if err != nil {
			metrics.ObjectStoreRetries.WithLabelValues("put").Inc()
			return fmt.Errorf("put object %s: %w", key, err)
		}
		return nil
	})
}

// Get returns a reader over the object at key. Callers must Close it.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var out *s3.GetObjectOutput
	err := retry.Do(ctx, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			metrics.ObjectStoreRetries.WithLabelValues("get").Inc()
			return fmt.Errorf("get object %s: %w", key, err)
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// Delete removes the object at key, retrying transient failures under the
// standard backoff schedule.
func (s *Store) Delete(ctx context.Context, key string) error {
	return retry.Do(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			metrics.ObjectStoreRetries.WithLabelValues("delete").Inc()
			return fmt.Errorf("delete object %s: %w", key, err)
		}
		return nil
	})
}

// Ping verifies the bucket is reachable, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}
	return nil
}
