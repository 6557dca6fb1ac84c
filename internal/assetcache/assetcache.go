// Package assetcache write-through-caches generated images and videos
// into a minio-compatible bucket, keyed by the encoded path segment that
// internal/assets builds for the /images/ proxy URL, so a stable copy
// exists even after the upstream's own asset URL expires, in the
// idiomatic minio-go client-plus-PutObject shape.
package assetcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config points the cache at a bucket.
type Config struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Cache fetches and stores generated assets by their encoded path.
type Cache struct {
	client *minio.Client
	bucket string
	http   *http.Client
}

// New connects to the configured bucket, creating it if absent.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("assetcache: connect: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("assetcache: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("assetcache: create bucket: %w", err)
		}
	}

	return &Cache{
		client: client,
		bucket: cfg.Bucket,
		http:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Has reports whether objectKey is already cached.
func (c *Cache) Has(ctx context.Context, objectKey string) bool {
	_, err := c.client.StatObject(ctx, c.bucket, objectKey, minio.StatObjectOptions{})
	return err == nil
}

// Populate downloads sourceURL and stores it under objectKey if it isn't
// already cached. A cache miss is not an error for the caller's request
// path — assetcache populates best-effort, the img-proxy layer falls
// back to the original upstream URL if this never completes.
func (c *Cache) Populate(ctx context.Context, objectKey, sourceURL, contentType string) error {
	if c.Has(ctx, objectKey) {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("assetcache: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("assetcache: fetch %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("assetcache: fetch %s: status %d", sourceURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("assetcache: read body: %w", err)
	}

	_, err = c.client.PutObject(ctx, c.bucket, objectKey, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("assetcache: put object: %w", err)
	}
	return nil
}

// PresignedURL returns a time-limited GET URL for objectKey.
func (c *Cache) PresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := c.client.PresignedGetObject(ctx, c.bucket, objectKey, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("assetcache: presign: %w", err)
	}
	return u.String(), nil
}
