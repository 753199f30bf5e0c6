package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultURLTTL is how long issued access URLs stay valid.
const DefaultURLTTL = time.Hour

// Gateway is durable object storage for generated audio plus signed-URL
// issuance. Put overwrites, so a retried generation attempt replaces any
// partial object from the previous one.
type Gateway interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// URLSigner issues a time-limited URL for an object key. The CDN signer is
// the primary implementation; the object store's own presigning is the
// fallback.
type URLSigner interface {
	Sign(key string, ttl time.Duration) (string, error)
}

// MinioConfig holds connection settings for the object store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioGateway stores audio objects in a MinIO/S3 bucket. When a CDN signer
// is configured it is tried first for URL issuance; any signing failure
// falls back to a presigned object-store URL, transparently to the caller.
type MinioGateway struct {
	client *minio.Client
	bucket string
	cdn    URLSigner // optional
}

// NewMinioGateway connects to the object store and ensures the bucket
// exists. cdn may be nil, in which case only presigned URLs are issued.
func NewMinioGateway(ctx context.Context, cfg MinioConfig, cdn URLSigner) (*MinioGateway, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioGateway{client: client, bucket: cfg.Bucket, cdn: cdn}, nil
}

func (g *MinioGateway) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := g.client.PutObject(ctx, g.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (g *MinioGateway) Delete(ctx context.Context, key string) error {
	if err := g.client.RemoveObject(ctx, g.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (g *MinioGateway) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}

	if g.cdn != nil {
		signed, err := g.cdn.Sign(key, ttl)
		if err == nil {
			return signed, nil
		}
		slog.Warn("cdn signing failed, falling back to presigned URL", "key", key, "error", err)
	}

	u, err := g.client.PresignedGetObject(ctx, g.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return u.String(), nil
}

// AudioKey builds the object key for a generated audio file. The timestamp
// keeps keys from colliding when a voice slot is reused after deletion. The
// extension comes from the synthesis content type so the key matches what
// the provider actually produced.
func AudioKey(documentID string, pageNumber int, voice string, now time.Time, contentType string) string {
	return fmt.Sprintf("audio/doc_%s/page_%d/voice_%s_%s%s",
		documentID, pageNumber, voice, now.UTC().Format("20060102_150405"), ExtensionFor(contentType))
}

// ExtensionFor maps a synthesis content type to its file extension.
func ExtensionFor(contentType string) string {
	switch contentType {
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".mp3"
	}
}
