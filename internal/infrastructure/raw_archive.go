package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"metaetl/internal/domain"
	"metaetl/pkg/config"
	"metaetl/pkg/logger"
)

// subset of *minio.Client used by the archive
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioArchive stores each account's raw API payload as a JSON array in an
// S3 compatible bucket. It implements domain.RawArchive.
type MinioArchive struct {
	store  objectStore
	bucket string
	region string
	logger *logger.Logger
	now    func() time.Time
}

func NewMinioArchive(cfg config.ArchiveConfig, logger *logger.Logger) (*MinioArchive, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid archive endpoint: %w", err)
	}
	endpoint := u.Host
	if endpoint == "" {
		endpoint = cfg.Endpoint
	}
	useSSL := cfg.UseSSL || u.Scheme == "https"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive client: %w", err)
	}

	return newMinioArchive(client, cfg.Bucket, cfg.Region, logger), nil
}

func newMinioArchive(store objectStore, bucket, region string, logger *logger.Logger) *MinioArchive {
	return &MinioArchive{
		store:  store,
		bucket: bucket,
		region: region,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureBucket creates the bucket when it does not exist.
func (a *MinioArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check archive bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		return fmt.Errorf("failed to create archive bucket: %w", err)
	}
	a.logger.WithContext(ctx).WithField("bucket", a.bucket).Info("Created archive bucket")
	return nil
}

func archiveKey(accountID string, day time.Time, cycleID string) string {
	return path.Join("raw", accountID, day.UTC().Format(domain.DateLayout), cycleID+".json")
}

func (a *MinioArchive) Archive(ctx context.Context, cycleID, accountID string, records []domain.RawInsight) error {
	if records == nil {
		records = []domain.RawInsight{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode raw payload: %w", err)
	}

	key := archiveKey(accountID, a.now(), cycleID)
	_, err = a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"bucket":  a.bucket,
		"key":     key,
		"records": len(records),
		"bytes":   len(data),
	}).Info("Archived raw insights")
	return nil
}
