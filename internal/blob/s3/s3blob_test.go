package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

type memBlobs struct {
	objects  map[string][]byte
	modified map[string]time.Time
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v)), LastModified: m.modified[k]})
		}
	}
	return out, nil
}

func (m *memBlobs) Delete(_ context.Context, path string) error {
	delete(m.objects, path)
	return nil
}

func TestReportArchiverPrune(t *testing.T) {
	blobs := &memBlobs{objects: map[string][]byte{}, modified: map[string]time.Time{}}
	a := NewReportArchiver(blobs, blobs, "reports")
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	for i, age := range []time.Duration{100 * 24 * time.Hour, time.Hour} {
		key, err := a.Archive(ctx, domain.SyncReport{
			RunID:     fmt.Sprintf("run-%d", i),
			Network:   "testnet",
			StartedAt: now.Add(-age),
		})
		require.NoError(t, err)
		blobs.modified[key] = now.Add(-age)
	}

	_, err := a.Prune(ctx, "testnet", now)
	require.Error(t, err, "prune needs a deleter")

	removed, err := a.WithDeleter(blobs).Prune(ctx, "testnet", now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	infos, err := a.List(ctx, "testnet")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Contains(t, infos[0].Path, "run-1.json")
}

func TestReportArchiverRoundTrip(t *testing.T) {
	blobs := &memBlobs{objects: map[string][]byte{}}
	a := NewReportArchiver(blobs, blobs, "")

	report := domain.SyncReport{
		RunID:     "run-1",
		Network:   "testnet",
		Mode:      "scan",
		Synced:    1,
		Results:   []domain.SyncItem{{DealID: 0, Action: domain.SyncCreated}},
		StartedAt: time.Date(2026, 10, 19, 23, 59, 0, 0, time.UTC),
	}

	key, err := a.Archive(context.Background(), report)
	require.NoError(t, err)
	assert.Equal(t, "sync-reports/testnet/2026/10/19/run-1.json", key)

	infos, err := a.List(context.Background(), "testnet")
	require.NoError(t, err)
	require.Len(t, infos, 1)

	got, err := a.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, report.Results, got.Results)
	assert.Equal(t, 1, got.Synced)

	_, err = a.Archive(context.Background(), domain.SyncReport{})
	assert.Error(t, err)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.org", normaliseEndpoint("https://s3.example.org", false))
}
