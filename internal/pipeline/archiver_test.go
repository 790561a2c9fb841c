package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	before []time.Time
	err    error
}

func (f *fakeHistory) ArchiveHistory(_ context.Context, before time.Time) (string, int64, error) {
	f.before = append(f.before, before)
	if f.err != nil {
		return "", 0, f.err
	}
	return "archive/positions/2026-09.jsonl", 4, nil
}

func TestArchiverRunUsesRetentionCutoff(t *testing.T) {
	hist := &fakeHistory{}
	a := NewArchiver(hist, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2026, 10, 16, 3, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	path, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "archive/positions/2026-09.jsonl", path)
	require.Len(t, hist.before, 1)
	assert.Equal(t, now.AddDate(0, 0, -30), hist.before[0])
}

func TestArchiverRunWrapsError(t *testing.T) {
	hist := &fakeHistory{err: errors.New("bucket gone")}
	a := NewArchiver(hist, 7, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := a.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, hist.err)
}

func TestRunCronRejectsBadExpression(t *testing.T) {
	a := NewArchiver(&fakeHistory{}, 7, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := a.RunCron(context.Background(), "61 * * * *")
	require.Error(t, err)
}

func TestRunCronStopsOnCancel(t *testing.T) {
	a := NewArchiver(&fakeHistory{}, 7, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.RunCron(ctx, "0 3 * * *")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextCronTime(t *testing.T) {
	after := time.Date(2026, 10, 16, 3, 7, 30, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{"daily", "0 3 * * *", time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC)},
		{"every 15 minutes", "*/15 * * * *", time.Date(2026, 10, 16, 3, 15, 0, 0, time.UTC)},
		{"weekday range", "30 9 * * 1-5", time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)},
		{"list", "0 3 1,15 * *", time.Date(2026, 11, 1, 3, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nextCronTime(tt.expr, after)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCronErrors(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "x * * * *", "0 24 * * *", "*/0 * * * *", "5-1 * * * *"} {
		_, err := parseCron(expr)
		assert.Error(t, err, expr)
	}
}
