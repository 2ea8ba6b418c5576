package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaetl/internal/domain"
)

type fakeObjectStore struct {
	buckets map[string]bool
	objects map[string][]byte
	putErr  error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{buckets: map[string]bool{}, objects: map[string][]byte{}}
}

func (f *fakeObjectStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeObjectStore) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeObjectStore) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+key] = b
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func TestMinioArchive_WritesJSONArray(t *testing.T) {
	store := newFakeObjectStore()
	archive := newMinioArchive(store, "raw-bucket", "", testLogger())
	archive.now = func() time.Time { return time.Date(2026, 2, 13, 23, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	require.NoError(t, archive.EnsureBucket(ctx))
	assert.True(t, store.buckets["raw-bucket"])

	record, err := domain.NewRawInsight(map[string]any{"ad_id": "1", "spend": "2.50"})
	require.NoError(t, err)
	require.NoError(t, archive.Archive(ctx, "cycle-1", "act_9", []domain.RawInsight{record}))

	data, ok := store.objects["raw-bucket/raw/act_9/2026-02-13/cycle-1.json"]
	require.True(t, ok)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []map[string]any{{"ad_id": "1", "spend": "2.50"}}, decoded)
}

func TestMinioArchive_EmptyBatchIsEmptyArray(t *testing.T) {
	store := newFakeObjectStore()
	archive := newMinioArchive(store, "b", "", testLogger())

	require.NoError(t, archive.Archive(context.Background(), "c", "a", nil))
	for _, data := range store.objects {
		assert.JSONEq(t, `[]`, string(data))
	}
}

func TestMinioArchive_PutFailure(t *testing.T) {
	store := newFakeObjectStore()
	store.putErr = errors.New("access denied")
	archive := newMinioArchive(store, "b", "", testLogger())

	err := archive.Archive(context.Background(), "c", "a", nil)
	assert.ErrorContains(t, err, "access denied")
}
