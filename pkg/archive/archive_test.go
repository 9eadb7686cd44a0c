package archive

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/immutabled/pkg/clock"
	"github.com/marmos91/immutabled/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upload struct {
	bucket, key string
	body        string
	lockMode    types.ObjectLockMode
	retainUntil *time.Time
}

type fakeS3 struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.uploads = append(f.uploads, upload{
		bucket:      aws.ToString(in.Bucket),
		key:         aws.ToString(in.Key),
		body:        string(body),
		lockMode:    in.ObjectLockMode,
		retainUntil: in.ObjectLockRetainUntilDate,
	})
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func populated(t *testing.T) ledger.Store {
	t.Helper()
	store := ledger.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, ledger.Record{Path: "/a", CreatedAt: 1000, Duration: 60}))
	require.NoError(t, store.Append(ctx, ledger.Record{Path: "/b", CreatedAt: 1001, Duration: 0}))
	return store
}

func TestSnapshot(t *testing.T) {
	fake := &fakeS3{}
	a, err := New(populated(t), Config{
		Client:    fake,
		Bucket:    "archive",
		KeyPrefix: "host1/",
		Clock:     clock.NewFakeUnix(1_700_000_000),
	})
	require.NoError(t, err)

	key, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "host1/ledger-1700000000.db", key)

	require.Len(t, fake.uploads, 1)
	up := fake.uploads[0]
	assert.Equal(t, "archive", up.bucket)
	assert.Equal(t, "/a|1000|60\n/b|1001|0\n", up.body)
	assert.Empty(t, up.lockMode)
	assert.Nil(t, up.retainUntil)
}

func TestSnapshotObjectLock(t *testing.T) {
	fake := &fakeS3{}
	a, err := New(populated(t), Config{
		Client:         fake,
		Bucket:         "archive",
		ObjectLockDays: 7,
		Clock:          clock.NewFakeUnix(1_700_000_000),
	})
	require.NoError(t, err)

	_, err = a.Snapshot(context.Background())
	require.NoError(t, err)

	up := fake.uploads[0]
	assert.Equal(t, types.ObjectLockModeCompliance, up.lockMode)
	require.NotNil(t, up.retainUntil)
	assert.Equal(t, int64(1_700_000_000+7*24*3600), up.retainUntil.Unix())
}

func TestSnapshotUploadError(t *testing.T) {
	fake := &fakeS3{err: errors.New("access denied")}
	a, err := New(populated(t), Config{Client: fake, Bucket: "archive"})
	require.NoError(t, err)

	_, err = a.Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestRunTakesFinalSnapshot(t *testing.T) {
	fake := &fakeS3{}
	a, err := New(populated(t), Config{Client: fake, Bucket: "archive"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
	assert.Equal(t, 1, fake.count())
}

func TestRunPeriodic(t *testing.T) {
	fake := &fakeS3{}
	a, err := New(populated(t), Config{Client: fake, Bucket: "archive", Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return fake.count() >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestNewValidation(t *testing.T) {
	store := ledger.NewMemoryStore()

	_, err := New(nil, Config{Client: &fakeS3{}, Bucket: "b"})
	assert.Error(t, err)
	_, err = New(store, Config{Bucket: "b"})
	assert.Error(t, err)
	_, err = New(store, Config{Client: &fakeS3{}})
	assert.Error(t, err)
	_, err = New(store, Config{Client: &fakeS3{}, Bucket: "b", Interval: -time.Second})
	assert.Error(t, err)
}

func TestNewS3ClientRequiresBucketAndRegion(t *testing.T) {
	_, err := NewS3Client(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = NewS3Client(context.Background(), S3Config{Bucket: "b"})
	assert.Error(t, err)

	c, err := NewS3Client(context.Background(), S3Config{
		Region:          "us-east-1",
		Bucket:          "b",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "id",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.NotNil(t, c)
}
