package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionbot/internal/domain"
	"github.com/alanyoungcy/optionbot/internal/store/memory"
)

type recordingWriter struct {
	puts      map[string][]byte
	multipart int
}

func (w *recordingWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.puts == nil {
		w.puts = map[string][]byte{}
	}
	w.puts[path] = b
	return nil
}

func (w *recordingWriter) PutMultipart(ctx context.Context, path string, data io.Reader, ct string, _ int64) error {
	w.multipart++
	return w.Put(ctx, path, data, ct)
}

func TestArchiveHistory(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPositionStore()
	audit := memory.NewAuditStore()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, domain.Position{
			ID: id, Underlying: "SPY", Strike: 500, Kind: domain.OptionKindCall,
			Expiration: now.Add(time.Hour), EntryPrice: 1, CurrentPrice: 1, PeakPrice: 1,
			Status: domain.PositionStatusActive, CreatedAt: now, UpdatedAt: now,
		}))
	}
	for _, id := range []string{"a", "b"} {
		_, err := store.CloseIfActive(ctx, domain.CloseRequest{PositionID: id, Reason: domain.CloseReasonExpired, ClosedAt: now})
		require.NoError(t, err)
	}

	w := &recordingWriter{}
	arch := NewArchiver(w, store, audit)

	path, n, err := arch.ArchiveHistory(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "archive/positions/2026-03.jsonl", path)
	assert.EqualValues(t, 2, n)
	assert.Zero(t, w.multipart)

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(w.puts[path]))
	for sc.Scan() {
		var p domain.Position
		require.NoError(t, json.Unmarshal(sc.Bytes(), &p))
		assert.Equal(t, domain.PositionStatusClosed, p.Status)
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.positions", entries[0].Event)
}

func TestArchiveHistoryEmpty(t *testing.T) {
	w := &recordingWriter{}
	arch := NewArchiver(w, memory.NewPositionStore(), memory.NewAuditStore())

	path, n, err := arch.ArchiveHistory(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Zero(t, n)
	assert.Empty(t, w.puts)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
}
