package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/smallbiznis/comms/internal/cache"
)

const defaultPresignTTL = 15 * time.Minute

var ErrInvalidRef = errors.New("invalid_attachment_ref")

type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PresignTTL time.Duration
}

// Presigner is the minio client surface the resolver needs.
type Presigner interface {
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params url.Values) (*url.URL, error)
}

// MinIOResolver hands out presigned GET URLs. URLs are cached for half of
// their presign lifetime so a cached URL is never served after it expires.
type MinIOResolver struct {
	client Presigner
	bucket string
	ttl    time.Duration
	urls   cache.Cache[string, string]
}

func NewMinIO(cfg Config) (*MinIOResolver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return NewMinIOWithClient(client, cfg.Bucket, cfg.PresignTTL, cache.NewTTLCache[string, string]()), nil
}

func NewMinIOWithClient(client Presigner, bucket string, ttl time.Duration, urls cache.Cache[string, string]) *MinIOResolver {
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &MinIOResolver{client: client, bucket: bucket, ttl: ttl, urls: urls}
}

func (r *MinIOResolver) ResolveURL(ctx context.Context, ref string) (string, error) {
	object := strings.TrimLeft(strings.TrimSpace(ref), "/")
	if object == "" || strings.Contains(object, "..") {
		return "", ErrInvalidRef
	}
	if cached, ok := r.urls.Get(object); ok {
		return cached, nil
	}

	signed, err := r.client.PresignedGetObject(ctx, r.bucket, object, r.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", object, err)
	}
	resolved := signed.String()
	r.urls.Set(object, resolved, r.ttl/2)
	return resolved, nil
}
