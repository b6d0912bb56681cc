// Package mirror publishes index snapshots to S3-compatible object storage so
// replicas serving the same schema can share embeddings.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kyleking/sqlrag/internal/config"
	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/index"
	"github.com/kyleking/sqlrag/internal/logging"
)

var errObjectNotFound = stderrors.New("object not found")

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Mirror publishes and fetches index snapshots
type Mirror interface {
	Publish(ctx context.Context, dump index.Dump) error
	Fetch(ctx context.Context, catalogHash, provider string) (*index.Dump, error)
}

type objectClient interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket string) error
}

// ObjectMirror stores each snapshot as one JSON object under
// <prefix>/<catalog hash>/<provider>.json
type ObjectMirror struct {
	client objectClient
	bucket string
	prefix string
}

// New connects to the configured endpoint and creates the bucket if needed
func New(ctx context.Context, cfg config.MirrorConfig) (*ObjectMirror, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.NewConfigError("mirror endpoint is required", "mirror.endpoint")
	}

	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.NewConfigError("mirror bucket is required", "mirror.bucket")
	}

	mc, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}

	m := newWithClient(mc, cfg.Bucket, cfg.Prefix)

	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return m, nil
}

func newWithClient(c objectClient, bucket, prefix string) *ObjectMirror {
	return &ObjectMirror{client: c, bucket: strings.TrimSpace(bucket), prefix: cleanPrefix(prefix)}
}

// Publish uploads a snapshot
func (m *ObjectMirror) Publish(ctx context.Context, dump index.Dump) error {
	key := m.objectKey(dump.Metadata.CatalogHash, dump.Metadata.Provider)

	data, err := json.Marshal(dump)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to encode snapshot")
	}

	if err := m.client.Put(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return errors.Wrapf(err, errors.ErrTypeNetwork, "failed to publish snapshot to %s/%s", m.bucket, key)
	}

	logging.WithFields(map[string]any{
		"bucket": m.bucket,
		"key":    key,
		"bytes":  len(data),
	}).Debug("Published index snapshot")

	return nil
}

// Fetch downloads a snapshot. A missing object is a not-found error.
func (m *ObjectMirror) Fetch(ctx context.Context, catalogHash, provider string) (*index.Dump, error) {
	key := m.objectKey(catalogHash, provider)

	body, err := m.client.Get(ctx, m.bucket, key)
	if err != nil {
		if stderrors.Is(err, errObjectNotFound) {
			return nil, errors.Newf(errors.ErrTypeNotFound, "no mirrored snapshot at %s/%s", m.bucket, key)
		}

		return nil, errors.Wrapf(err, errors.ErrTypeNetwork, "failed to fetch snapshot %s/%s", m.bucket, key)
	}
	defer body.Close()

	var dump index.Dump
	if err := json.NewDecoder(body).Decode(&dump); err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeInternal, "failed to decode snapshot %s", key)
	}

	if dump.Metadata.CatalogHash != catalogHash || dump.Metadata.Provider != provider {
		return nil, errors.Newf(errors.ErrTypeInternal,
			"mirrored snapshot %s describes catalog %s with provider %s", key, dump.Metadata.CatalogHash, dump.Metadata.Provider)
	}

	return &dump, nil
}

func (m *ObjectMirror) objectKey(catalogHash, provider string) string {
	name := unsafeKeyChars.ReplaceAllString(provider, "_") + ".json"

	if m.prefix == "" {
		return path.Join(catalogHash, name)
	}

	return path.Join(m.prefix, catalogHash, name)
}

func (m *ObjectMirror) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return errors.Wrapf(err, errors.ErrTypeNetwork, "failed to check bucket %s", m.bucket)
	}

	if exists {
		return nil
	}

	if err := m.client.CreateBucket(ctx, m.bucket); err != nil {
		return errors.Wrapf(err, errors.ErrTypeNetwork, "failed to create bucket %s", m.bucket)
	}

	return nil
}

func cleanPrefix(prefix string) string {
	prefix = strings.TrimSpace(strings.Trim(prefix, "/"))
	if prefix == "" {
		return ""
	}

	prefix = path.Clean(prefix)
	if prefix == "." {
		return ""
	}

	return prefix
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}

		if parsed.Host == "" {
			return "", false, fmt.Errorf("endpoint host is required")
		}

		return parsed.Host, parsed.Scheme == "https" || useSSL, nil
	}

	return raw, useSSL, nil
}

type minioClient struct {
	client *minio.Client
}

func newMinioClient(cfg config.MirrorConfig) (*minioClient, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "invalid mirror endpoint")
	}

	c, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to create object storage client")
	}

	return &minioClient{client: c}, nil
}

func (m *minioClient) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	return mapMinioErr(err)
}

func (m *minioClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}

	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioErr(err)
	}

	return obj, nil
}

func (m *minioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := m.client.BucketExists(ctx, bucket)
	return exists, mapMinioErr(err)
}

func (m *minioClient) CreateBucket(ctx context.Context, bucket string) error {
	return mapMinioErr(m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}

	var response minio.ErrorResponse
	if stderrors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return errObjectNotFound
		}
	}

	return err
}
