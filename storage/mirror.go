package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"clipwave/job"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
	Prefix    string // key prefix inside the bucket, e.g. "clips"
}

// objectStore is the subset of *minio.Client the mirror uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// Mirror copies finished job outputs to an S3-compatible bucket under
// <prefix>/<job_id>/.
type Mirror struct {
	client objectStore
	bucket string
	prefix string
}

// NewMirror connects to MinIO and makes sure the bucket exists.
func NewMirror(ctx context.Context, cfg Config) (*Mirror, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("storage: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	m := newMirror(client, cfg.Bucket, cfg.Prefix)
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func newMirror(client objectStore, bucket, prefix string) *Mirror {
	return &Mirror{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (m *Mirror) ensureBucket(ctx context.Context) error {
	ok, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("storage: check bucket %s: %w", m.bucket, err)
	}
	if ok {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("storage: create bucket %s: %w", m.bucket, err)
	}
	zerolog.Ctx(ctx).Info().Str("bucket", m.bucket).Msg("created storage bucket")
	return nil
}

func (m *Mirror) keyPrefix(jobID string) string {
	if m.prefix == "" {
		return jobID
	}
	return path.Join(m.prefix, jobID)
}

// Upload puts every file under the job's prefix and returns that prefix. A
// partial upload is rolled back.
func (m *Mirror) Upload(ctx context.Context, jobID string, files []string) (string, error) {
	prefix := m.keyPrefix(jobID)
	var uploaded []string
	for _, f := range files {
		key := path.Join(prefix, filepath.Base(f))
		zerolog.Ctx(ctx).Info().Str("key", key).Msg("uploading output to storage")
		if _, err := m.client.FPutObject(ctx, m.bucket, key, f, minio.PutObjectOptions{ContentType: "video/mp4"}); err != nil {
			for _, k := range uploaded {
				if rmErr := m.client.RemoveObject(ctx, m.bucket, k, minio.RemoveObjectOptions{}); rmErr != nil {
					zerolog.Ctx(ctx).Warn().Err(rmErr).Str("key", k).Msg("failed to roll back upload")
				}
			}
			return "", fmt.Errorf("storage: upload %s: %w", key, err)
		}
		uploaded = append(uploaded, key)
	}
	return prefix, nil
}

// Remove deletes a job's mirrored objects. Jobs that were never mirrored are
// skipped.
func (m *Mirror) Remove(ctx context.Context, j job.Job) error {
	if j.RemoteKey == "" {
		return nil
	}
	var errs []error
	objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: j.RemoteKey + "/", Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			errs = append(errs, obj.Err)
			continue
		}
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", obj.Key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("storage: remove %s: %w", j.RemoteKey, err)
	}
	return nil
}
