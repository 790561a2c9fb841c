package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionbot/internal/domain"
	"github.com/alanyoungcy/optionbot/internal/store/memory"
)

type pollerFixture struct {
	store   *memory.PositionStore
	quotes  *fakeQuotes
	events  *eventLog
	alerts  *alertLog
	peaks   *PeakQueue
	metrics *Metrics
	poller  *PricePoller
}

func newPollerFixture(t *testing.T) *pollerFixture {
	t.Helper()
	f := &pollerFixture{
		store:   memory.NewPositionStore(),
		quotes:  newFakeQuotes(),
		events:  &eventLog{},
		alerts:  &alertLog{},
		peaks:   NewPeakQueue(),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	f.poller = NewPricePoller(f.store, f.quotes, nil, f.events, f.alerts, f.peaks, f.metrics, PollerConfig{
		Interval:     time.Second,
		QuoteTimeout: time.Second,
		Rules:        domain.ExitRules{StopLossPercent: 50, PeakHysteresis: 0.10},
	}, discardLogger())
	return f
}

func (f *pollerFixture) cycle(t *testing.T) {
	t.Helper()
	require.NoError(t, f.poller.RunCycle(context.Background()))
	f.poller.Wait()
}

func tomorrow() time.Time {
	return time.Now().UTC().Add(24 * time.Hour)
}

func TestPollerTracksPeakAndQueuesNewHighs(t *testing.T) {
	f := newPollerFixture(t)
	seedPosition(t, f.store, "p1", "SPY", 1.00, tomorrow())

	f.quotes.set("SPY", 1.05)
	f.cycle(t)
	p := getPosition(t, f.store, "p1")
	assert.Equal(t, 1.05, p.CurrentPrice)
	assert.Equal(t, 1.00, p.PeakPrice, "a rise below the hysteresis keeps the peak")
	assert.Zero(t, f.peaks.Len())

	f.quotes.set("SPY", 1.15)
	f.cycle(t)
	p = getPosition(t, f.store, "p1")
	assert.Equal(t, 1.15, p.PeakPrice)
	assert.Equal(t, 1, f.peaks.Len())

	f.quotes.set("SPY", 0.90)
	f.cycle(t)
	p = getPosition(t, f.store, "p1")
	assert.Equal(t, 0.90, p.CurrentPrice)
	assert.Equal(t, 1.15, p.PeakPrice, "peak never lowers")
	assert.Equal(t, 1, f.peaks.Len(), "a lower price is not a new peak")

	updates := f.events.ofType(domain.EventPriceUpdate)
	require.Len(t, updates, 3)
	assert.Equal(t, 0.90, updates[2].Price)
	assert.Equal(t, 1.15, updates[2].Peak)
}

func TestPollerUnchangedPriceStillPublishes(t *testing.T) {
	f := newPollerFixture(t)
	seedPosition(t, f.store, "p1", "SPY", 1.00, tomorrow())

	f.quotes.set("SPY", 1.00)
	f.cycle(t)

	assert.Len(t, f.events.ofType(domain.EventPriceUpdate), 1)
	assert.Zero(t, f.peaks.Len())
}

func TestPollerStopLoss(t *testing.T) {
	f := newPollerFixture(t)
	seedPosition(t, f.store, "p1", "SPY", 2.00, tomorrow())

	f.quotes.set("SPY", 0.95)
	f.cycle(t)

	p := getPosition(t, f.store, "p1")
	assert.Equal(t, domain.PositionStatusClosed, p.Status)
	assert.Equal(t, domain.CloseReasonStopLoss, p.CloseReason)
	require.NotNil(t, p.ExitPrice)
	assert.Equal(t, 0.95, *p.ExitPrice)
	assert.Equal(t, 2.00, p.CurrentPrice, "current price is left as last persisted")

	closed := f.events.ofType(domain.EventTradeClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CloseReasonStopLoss, closed[0].Reason)

	sent := f.alerts.all()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.NotifyStopLoss, sent[0].event)

	// Terminal: later cycles leave it alone.
	f.quotes.set("SPY", 5.00)
	f.cycle(t)
	assert.Equal(t, p, getPosition(t, f.store, "p1"))
	assert.Len(t, f.events.all(), 1)
}

func TestPollerStopLossBoundaryIsInclusive(t *testing.T) {
	f := newPollerFixture(t)
	seedPosition(t, f.store, "p1", "SPY", 2.00, tomorrow())

	f.quotes.set("SPY", 1.00)
	f.cycle(t)
	assert.Equal(t, domain.CloseReasonStopLoss, getPosition(t, f.store, "p1").CloseReason)
}

func TestPollerIsolatesFailedQuotes(t *testing.T) {
	f := newPollerFixture(t)
	seedPosition(t, f.store, "a", "AAA", 1.00, tomorrow())
	seedPosition(t, f.store, "b", "BBB", 1.00, tomorrow())
	seedPosition(t, f.store, "c", "CCC", 1.00, tomorrow())

	f.quotes.set("AAA", 1.10)
	f.quotes.fail("BBB", errUpstream)
	f.quotes.set("CCC", 1.20)
	f.cycle(t)

	assert.Equal(t, 1.10, getPosition(t, f.store, "a").CurrentPrice)
	assert.Equal(t, 1.00, getPosition(t, f.store, "b").CurrentPrice)
	assert.Equal(t, 1.20, getPosition(t, f.store, "c").CurrentPrice)

	updates := f.events.ofType(domain.EventPriceUpdate)
	require.Len(t, updates, 2)
	for _, e := range updates {
		assert.NotEqual(t, "b", e.PositionID)
	}
	assert.Equal(t, 2, f.peaks.Len())
}

func TestPollerExpiresEvenWithoutQuote(t *testing.T) {
	f := newPollerFixture(t)
	p := seedPosition(t, f.store, "p1", "SPY", 1.00, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, mustCommitPrice(f.store, p.ID, 1.40))

	f.quotes.fail("SPY", errUpstream)
	f.cycle(t)

	got := getPosition(t, f.store, "p1")
	assert.Equal(t, domain.CloseReasonExpired, got.CloseReason)
	require.NotNil(t, got.ExitPrice)
	assert.Equal(t, 1.40, *got.ExitPrice)

	sent := f.alerts.all()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.NotifyExpired, sent[0].event)
}

func TestPollerExpiresAtQuotedMid(t *testing.T) {
	f := newPollerFixture(t)
	seedPosition(t, f.store, "p1", "SPY", 1.00, time.Now().UTC().Add(-time.Minute))

	f.quotes.set("SPY", 0.10)
	f.cycle(t)

	got := getPosition(t, f.store, "p1")
	assert.Equal(t, domain.CloseReasonExpired, got.CloseReason, "expiration wins over stop loss")
	assert.Equal(t, 0.10, *got.ExitPrice)
}

func TestPollerCommitFailureEmitsNothing(t *testing.T) {
	f := newPollerFixture(t)
	seedPosition(t, f.store, "a", "AAA", 1.00, tomorrow())
	seedPosition(t, f.store, "b", "BBB", 2.00, tomorrow())

	f.quotes.set("AAA", 1.50)
	f.quotes.set("BBB", 0.50)
	f.store.FailNextCommit(errors.New("connection reset"))

	err := f.poller.RunCycle(context.Background())
	require.Error(t, err)
	f.poller.Wait()

	assert.Equal(t, 1.00, getPosition(t, f.store, "a").CurrentPrice)
	assert.True(t, getPosition(t, f.store, "b").IsActive())
	assert.Empty(t, f.events.all())
	assert.Empty(t, f.alerts.all())
	assert.Zero(t, f.peaks.Len())

	// Next cycle recomputes from fresh quotes.
	f.cycle(t)
	assert.Equal(t, 1.50, getPosition(t, f.store, "a").CurrentPrice)
	assert.False(t, getPosition(t, f.store, "b").IsActive())
}

func TestPollerManualCloseWinsRace(t *testing.T) {
	f := newPollerFixture(t)
	seedPosition(t, f.store, "p1", "SPY", 2.00, tomorrow())
	f.quotes.set("SPY", 0.50)

	// An operator closes the position while its quote is in flight.
	f.quotes.onCall = func(domain.QuoteRequest) {
		_, err := f.store.CloseIfActive(context.Background(), domain.CloseRequest{
			PositionID: "p1", Reason: domain.CloseReasonManual, ClosedBy: "ops", ClosedAt: time.Now(),
		})
		assert.NoError(t, err)
	}
	f.cycle(t)

	got := getPosition(t, f.store, "p1")
	assert.Equal(t, domain.CloseReasonManual, got.CloseReason)
	assert.Equal(t, 2.00, *got.ExitPrice)
	assert.Empty(t, f.events.all(), "the losing close emits nothing")
	assert.Empty(t, f.alerts.all())
}

func TestPollerUnchangedPriceSkipsManuallyClosed(t *testing.T) {
	f := newPollerFixture(t)
	seedPosition(t, f.store, "p1", "SPY", 1.00, tomorrow())
	f.quotes.set("SPY", 1.00)

	f.quotes.onCall = func(domain.QuoteRequest) {
		_, err := f.store.CloseIfActive(context.Background(), domain.CloseRequest{
			PositionID: "p1", Reason: domain.CloseReasonManual, ClosedBy: "ops", ClosedAt: time.Now(),
		})
		assert.NoError(t, err)
	}
	f.cycle(t)

	assert.False(t, getPosition(t, f.store, "p1").IsActive())
	assert.Empty(t, f.events.ofType(domain.EventPriceUpdate), "closed positions get no price updates")
}

func TestPollerMetrics(t *testing.T) {
	f := newPollerFixture(t)
	seedPosition(t, f.store, "a", "AAA", 2.00, tomorrow())
	seedPosition(t, f.store, "b", "BBB", 1.00, time.Now().UTC().Add(-time.Minute))
	seedPosition(t, f.store, "c", "CCC", 1.00, tomorrow())

	f.quotes.set("AAA", 0.80)
	f.quotes.set("BBB", 0.90)
	f.quotes.fail("CCC", errUpstream)
	f.cycle(t)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.cycles))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.activePositions))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.quoteFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.closes.WithLabelValues(string(domain.CloseReasonStopLoss))))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.closes.WithLabelValues(string(domain.CloseReasonExpired))))

	f.store.FailNextCommit(errors.New("connection reset"))
	f.quotes.set("CCC", 1.50)
	require.Error(t, f.poller.RunCycle(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.commitFailures))
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	f := newPollerFixture(t)
	seedPosition(t, f.store, "p1", "SPY", 1.00, tomorrow())
	f.quotes.set("SPY", 1.10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.poller.Run(ctx) }()

	require.Eventually(t, func() bool {
		return getPosition(t, f.store, "p1").CurrentPrice == 1.10
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func mustCommitPrice(s *memory.PositionStore, id string, price float64) error {
	_, err := s.CommitBatch(context.Background(), []domain.Mutation{{
		Kind: domain.MutationPrice, PositionID: id, CurrentPrice: price, PeakPrice: price,
	}})
	return err
}
