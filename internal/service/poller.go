package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// alertTimeout bounds one background notification.
const alertTimeout = 30 * time.Second

// PollerConfig tunes the poll loop.
type PollerConfig struct {
	Interval     time.Duration
	QuoteTimeout time.Duration
	Rules        domain.ExitRules
}

// PricePoller refreshes every active position once per interval, applies the
// expiration and stop-loss rules, tracks peaks and commits each cycle as one
// batch. At most one cycle is in flight.
type PricePoller struct {
	store    domain.PositionStore
	quotes   domain.QuoteSource
	cache    domain.QuoteCache
	events   domain.EventSink
	notifier domain.AlertNotifier
	peaks    *PeakQueue
	metrics  *Metrics
	cfg      PollerConfig
	logger   *slog.Logger
	now      func() time.Time

	// alerts tracks in-flight notifications so a slow channel never delays
	// the next cycle.
	alerts sync.WaitGroup
}

// NewPricePoller creates a PricePoller. cache, events, notifier and metrics
// may be nil.
func NewPricePoller(
	store domain.PositionStore,
	quotes domain.QuoteSource,
	cache domain.QuoteCache,
	events domain.EventSink,
	notifier domain.AlertNotifier,
	peaks *PeakQueue,
	metrics *Metrics,
	cfg PollerConfig,
	logger *slog.Logger,
) *PricePoller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 5 * time.Second
	}
	return &PricePoller{
		store:    store,
		quotes:   quotes,
		cache:    cache,
		events:   events,
		notifier: notifier,
		peaks:    peaks,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "price_poller")),
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled. A failed cycle is logged and the loop
// continues on the next tick.
func (p *PricePoller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "price poller started", slog.Duration("interval", p.cfg.Interval))
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := p.RunCycle(ctx); err != nil {
			p.logger.WarnContext(ctx, "poll cycle failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			p.alerts.Wait()
			p.logger.InfoContext(ctx, "price poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type quoteResult struct {
	pos   domain.Position
	quote *domain.Quote
}

// pending is a mutation plus what to emit once it is known to be applied.
type pending struct {
	pos      domain.Position
	decision domain.Decision
	quote    *domain.Quote
}

// RunCycle performs one full cycle. Quote fetches and the commit run on a
// context detached from ctx's cancellation, so shutdown never tears a cycle
// in half.
func (p *PricePoller) RunCycle(ctx context.Context) error {
	start := time.Now()
	active, err := p.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("poller: list active: %w", err)
	}
	if len(active) == 0 {
		p.metrics.cycleDone(start, 0)
		return nil
	}

	work := context.WithoutCancel(ctx)
	var (
		muts     []domain.Mutation
		pendings []pending
	)
	for res := range p.fetchAll(work, active) {
		d := p.cfg.Rules.Evaluate(res.pos, res.quote, p.now())
		switch d.Action {
		case domain.ActionSkip:
			continue
		case domain.ActionExpire, domain.ActionStopLoss:
			reason := domain.CloseReasonExpired
			if d.Action == domain.ActionStopLoss {
				reason = domain.CloseReasonStopLoss
			}
			muts = append(muts, domain.Mutation{
				Kind: domain.MutationClose, PositionID: res.pos.ID,
				Reason: reason, ExitPrice: d.ExitPrice, ClosedAt: p.now().UTC(),
			})
			pendings = append(pendings, pending{pos: res.pos, decision: d, quote: res.quote})
		case domain.ActionUpdate:
			m := domain.Mutation{Kind: domain.MutationTouch, PositionID: res.pos.ID}
			if d.Changed {
				m = domain.Mutation{
					Kind: domain.MutationPrice, PositionID: res.pos.ID,
					CurrentPrice: d.Price, PeakPrice: d.Peak,
				}
			}
			muts = append(muts, m)
			pendings = append(pendings, pending{pos: res.pos, decision: d, quote: res.quote})
		}
	}

	var result domain.BatchResult
	if len(muts) > 0 {
		commitCtx, cancel := context.WithTimeout(work, p.cfg.QuoteTimeout)
		result, err = p.store.CommitBatch(commitCtx, muts)
		cancel()
		if err != nil {
			p.metrics.commitFailed()
			return fmt.Errorf("poller: commit %d mutations: %w", len(muts), err)
		}
	}

	for i, pd := range pendings {
		if i < len(result.Applied) && result.Applied[i] {
			p.afterCommit(work, pd)
		}
	}

	p.metrics.cycleDone(start, len(active))
	p.metrics.queueLen(p.peaks.Len())
	return nil
}

// fetchAll requests a quote for every position concurrently and yields
// results in completion order. Each fetch has its own timeout; a failure
// yields a nil quote for that position only.
func (p *PricePoller) fetchAll(ctx context.Context, active []domain.Position) <-chan quoteResult {
	out := make(chan quoteResult, len(active))
	var g errgroup.Group
	for _, pos := range active {
		g.Go(func() error {
			out <- quoteResult{pos: pos, quote: p.fetch(ctx, pos)}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(out)
	}()
	return out
}

func (p *PricePoller) fetch(ctx context.Context, pos domain.Position) *domain.Quote {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.QuoteTimeout)
	defer cancel()

	q, err := p.quotes.GetQuote(fctx, pos.QuoteRequest())
	if err != nil {
		p.metrics.quoteFailed()
		level := slog.LevelDebug
		if errors.Is(err, domain.ErrQuoteUnavailable) {
			level = slog.LevelWarn
		}
		p.logger.Log(ctx, level, "quote fetch failed",
			slog.String("position_id", pos.ID),
			slog.String("underlying", pos.Underlying),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return &q
}

func (p *PricePoller) afterCommit(ctx context.Context, pd pending) {
	pos, d := pd.pos, pd.decision
	now := p.now().UTC()

	if pd.quote != nil && p.cache != nil {
		if err := p.cache.SetQuote(ctx, pos.ID, *pd.quote); err != nil {
			p.logger.DebugContext(ctx, "quote cache write failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	switch d.Action {
	case domain.ActionExpire, domain.ActionStopLoss:
		reason, event, alert := domain.CloseReasonExpired, domain.NotifyExpired, expiredAlert(pos, d.ExitPrice)
		if d.Action == domain.ActionStopLoss {
			reason, event, alert = domain.CloseReasonStopLoss, domain.NotifyStopLoss, stopLossAlert(pos, d.ExitPrice)
		}
		p.metrics.closed(reason)
		p.logger.InfoContext(ctx, "position closed",
			slog.String("position_id", pos.ID),
			slog.String("reason", string(reason)),
			slog.Float64("exit_price", d.ExitPrice),
		)
		p.publish(ctx, domain.TradeClosedEvent(pos.ID, reason, now))
		p.notify(ctx, event, alert)

	case domain.ActionUpdate:
		p.publish(ctx, domain.PriceUpdateEvent(pos.ID, d.Price, d.Peak, now))
		if d.NewPeak {
			p.peaks.Push(pos.ID)
		}
	}
}

func (p *PricePoller) publish(ctx context.Context, evt domain.Event) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, evt); err != nil {
		p.logger.WarnContext(ctx, "event publish failed",
			slog.String("type", string(evt.Type)),
			slog.String("position_id", evt.PositionID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *PricePoller) notify(ctx context.Context, event string, alert domain.Alert) {
	if p.notifier == nil {
		return
	}
	p.alerts.Add(1)
	go func() {
		defer p.alerts.Done()
		nctx, cancel := context.WithTimeout(ctx, alertTimeout)
		defer cancel()
		if err := p.notifier.Notify(nctx, event, alert); err != nil {
			p.logger.WarnContext(nctx, "notification failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (p *PricePoller) Wait() {
	p.alerts.Wait()
}
