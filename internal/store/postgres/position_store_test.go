package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// newTestStore connects to OPTIONBOT_TEST_DSN and migrates it. Tests are
// skipped when the variable is unset.
func newTestStore(t *testing.T) *PositionStore {
	t.Helper()
	dsn := os.Getenv("OPTIONBOT_TEST_DSN")
	if dsn == "" {
		t.Skip("OPTIONBOT_TEST_DSN not set")
	}
	ctx := context.Background()
	client, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	_, err = client.RunMigrations(ctx)
	require.NoError(t, err)
	return NewPositionStore(client.Pool())
}

func seedPosition(t *testing.T, s *PositionStore, entry float64) domain.Position {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := domain.Position{
		ID: uuid.NewString(), Symbol: "SPY260320C00500000", Underlying: "SPY", Strike: 500,
		Kind: domain.OptionKindCall, Expiration: now.Add(24 * time.Hour),
		EntryPrice: entry, CurrentPrice: entry, PeakPrice: entry,
		Status: domain.PositionStatusActive, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.Create(context.Background(), p))
	return p
}

func TestPostgresCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedPosition(t, s, 1.25)

	got, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.25, got.EntryPrice)
	assert.Equal(t, domain.PositionStatusActive, got.Status)
	assert.Nil(t, got.ExitPrice)

	assert.ErrorIs(t, s.Create(ctx, p), domain.ErrAlreadyExists)

	_, err = s.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresCommitBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedPosition(t, s, 1.00)
	b := seedPosition(t, s, 2.00)

	res, err := s.CommitBatch(ctx, []domain.Mutation{
		{Kind: domain.MutationPrice, PositionID: a.ID, CurrentPrice: 1.35, PeakPrice: 1.35},
		{Kind: domain.MutationClose, PositionID: b.ID, Reason: domain.CloseReasonStopLoss, ExitPrice: 0.95, ClosedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, res.Applied)

	gotA, _ := s.GetByID(ctx, a.ID)
	assert.Equal(t, 1.35, gotA.CurrentPrice)
	assert.Equal(t, 1.35, gotA.PeakPrice)

	gotB, _ := s.GetByID(ctx, b.ID)
	assert.Equal(t, domain.PositionStatusClosed, gotB.Status)
	assert.Equal(t, domain.CloseReasonStopLoss, gotB.CloseReason)
	require.NotNil(t, gotB.ExitPrice)
	assert.Equal(t, 0.95, *gotB.ExitPrice)

	// b is closed now; the write against it is skipped, and a's peak holds.
	res, err = s.CommitBatch(ctx, []domain.Mutation{
		{Kind: domain.MutationPrice, PositionID: a.ID, CurrentPrice: 1.20, PeakPrice: 1.20},
		{Kind: domain.MutationPrice, PositionID: b.ID, CurrentPrice: 3.00, PeakPrice: 3.00},
		{Kind: domain.MutationTouch, PositionID: a.ID},
		{Kind: domain.MutationTouch, PositionID: b.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false}, res.Applied)

	gotA, _ = s.GetByID(ctx, a.ID)
	assert.Equal(t, 1.20, gotA.CurrentPrice)
	assert.Equal(t, 1.35, gotA.PeakPrice)
}

func TestPostgresConcurrentCloses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedPosition(t, s, 1.00)

	reasons := []domain.CloseReason{domain.CloseReasonManual, domain.CloseReasonExpired, domain.CloseReasonStopLoss}
	applied := make([]bool, len(reasons))
	var wg sync.WaitGroup
	for i, r := range reasons {
		wg.Add(1)
		go func(i int, r domain.CloseReason) {
			defer wg.Done()
			ok, err := s.CloseIfActive(ctx, domain.CloseRequest{PositionID: p.ID, Reason: r, ClosedAt: time.Now()})
			assert.NoError(t, err)
			applied[i] = ok
		}(i, r)
	}
	wg.Wait()

	wins := 0
	var winner domain.CloseReason
	for i, ok := range applied {
		if ok {
			wins++
			winner = reasons[i]
		}
	}
	assert.Equal(t, 1, wins)

	got, _ := s.GetByID(ctx, p.ID)
	assert.Equal(t, winner, got.CloseReason)
	require.NotNil(t, got.ExitPrice)
	assert.Equal(t, 1.00, *got.ExitPrice)
}

func TestPostgresAdvanceGoal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedPosition(t, s, 1.00)

	ok, err := s.AdvanceGoal(ctx, p.ID, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AdvanceGoal(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.AdvanceGoal(ctx, p.ID, 6)
	assert.ErrorIs(t, err, domain.ErrInvalidPosition)

	_, err = s.AdvanceGoal(ctx, uuid.NewString(), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, _ := s.GetByID(ctx, p.ID)
	assert.Equal(t, 3, got.LastGoal)
}

func TestPostgresSetSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedPosition(t, s, 1.00)

	require.NoError(t, s.SetSnapshot(ctx, p.ID, domain.SnapshotPeak, "snapshots/x/peak.json"))
	got, _ := s.GetByID(ctx, p.ID)
	assert.Equal(t, "snapshots/x/peak.json", got.PeakSnapshot)

	assert.ErrorIs(t, s.SetSnapshot(ctx, uuid.NewString(), domain.SnapshotEntry, "x"), domain.ErrNotFound)
}
