package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// MilestoneEvaluator is the single consumer of the peak queue. For each id it
// reloads the position, finds the highest goal the peak has newly reached,
// advances LastGoal and emits one milestone event. Snapshot rendering and the
// alert run in the background and never roll the advance back.
type MilestoneEvaluator struct {
	store     domain.PositionStore
	peaks     *PeakQueue
	tiers     domain.Tiers
	events    domain.EventSink
	notifier  domain.AlertNotifier
	snapshots *Snapshotter
	metrics   *Metrics
	retryWait time.Duration
	logger    *slog.Logger
	now       func() time.Time

	background sync.WaitGroup
}

// NewMilestoneEvaluator creates a MilestoneEvaluator. events, notifier,
// snapshots and metrics may be nil. retryWait is the pause after an item
// fails on a store error.
func NewMilestoneEvaluator(
	store domain.PositionStore,
	peaks *PeakQueue,
	tiers domain.Tiers,
	events domain.EventSink,
	notifier domain.AlertNotifier,
	snapshots *Snapshotter,
	metrics *Metrics,
	retryWait time.Duration,
	logger *slog.Logger,
) *MilestoneEvaluator {
	return &MilestoneEvaluator{
		store:     store,
		peaks:     peaks,
		tiers:     tiers,
		events:    events,
		notifier:  notifier,
		snapshots: snapshots,
		metrics:   metrics,
		retryWait: retryWait,
		logger:    logger.With(slog.String("component", "milestone_evaluator")),
		now:       time.Now,
	}
}

// Run consumes the queue until ctx is cancelled. Queued ids are dropped on
// shutdown.
func (e *MilestoneEvaluator) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "milestone evaluator started")
	for {
		id, err := e.peaks.Pop(ctx)
		if err != nil {
			e.background.Wait()
			e.logger.InfoContext(ctx, "milestone evaluator stopped", slog.Int("dropped", e.peaks.Len()))
			return ctx.Err()
		}
		e.metrics.queueLen(e.peaks.Len())

		if _, err := e.Process(ctx, id); err != nil {
			e.logger.WarnContext(ctx, "milestone evaluation failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
			if e.retryWait > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(e.retryWait):
				}
			}
		}
	}
}

// Process evaluates one queued id and returns the goal it advanced to, or 0
// when the item was a no-op.
func (e *MilestoneEvaluator) Process(ctx context.Context, id string) (int, error) {
	pos, err := e.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("evaluator: load %s: %w", id, err)
	}
	if !pos.IsActive() {
		return 0, nil
	}

	goal := e.tiers.HighestNewTier(pos.EntryPrice, pos.PeakPrice, pos.LastGoal)
	if goal == 0 {
		return 0, nil
	}

	applied, err := e.store.AdvanceGoal(ctx, id, goal)
	if err != nil {
		return 0, fmt.Errorf("evaluator: advance %s to goal %d: %w", id, goal, err)
	}
	if !applied {
		// Closed or advanced concurrently since the load.
		return 0, nil
	}
	pos.LastGoal = goal

	e.metrics.milestone(goal)
	e.logger.InfoContext(ctx, "milestone crossed",
		slog.String("position_id", id),
		slog.Int("goal", goal),
		slog.Float64("peak_price", pos.PeakPrice),
	)

	if e.events != nil {
		evt := domain.MilestoneEvent(id, goal, pos.PeakPrice, e.now().UTC())
		if err := e.events.Publish(ctx, evt); err != nil {
			e.logger.WarnContext(ctx, "event publish failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	e.background.Add(1)
	go func() {
		defer e.background.Done()
		e.announce(context.WithoutCancel(ctx), pos, goal)
	}()
	return goal, nil
}

// announce renders the peak snapshot and sends the milestone alert with it
// attached. Failures are logged only.
func (e *MilestoneEvaluator) announce(ctx context.Context, pos domain.Position, goal int) {
	ctx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()

	alert := milestoneAlert(pos, goal)
	if e.snapshots != nil {
		art, _, err := e.snapshots.Capture(ctx, domain.SnapshotPeak, pos, nil, goal)
		if err != nil {
			e.logger.WarnContext(ctx, "peak snapshot failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
		alert.Attachment = attachment(domain.SnapshotPeak, pos, art)
	}

	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, domain.NotifyMilestone, alert); err != nil {
		e.logger.WarnContext(ctx, "milestone notification failed",
			slog.String("position_id", pos.ID),
			slog.Int("goal", goal),
			slog.String("error", err.Error()),
		)
	}
}

// Wait blocks until background snapshot and alert work finishes.
func (e *MilestoneEvaluator) Wait() {
	e.background.Wait()
}
