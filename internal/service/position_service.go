package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// closeLockTTL bounds how long a manual close holds its per-position lock.
const closeLockTTL = 10 * time.Second

// OpenRequest describes the contract to enter. Strike wins over the bid/ask
// band when both are set.
type OpenRequest struct {
	Underlying string
	Kind       domain.OptionKind
	Strike     float64
	Expiration time.Time
	MinBid     float64
	MaxAsk     float64
	MinVolume  int64
	OpenedBy   string
}

// PositionService owns the operator-facing lifecycle: opening positions,
// manual closes and read access for the API.
type PositionService struct {
	store     domain.PositionStore
	audit     domain.AuditStore
	finder    domain.ContractFinder
	quotes    domain.QuoteSource
	cache     domain.QuoteCache
	locks     domain.LockManager
	events    domain.EventSink
	notifier  domain.AlertNotifier
	snapshots *Snapshotter
	lister    domain.BlobLister
	reader    domain.BlobReader
	metrics   *Metrics
	tiers     domain.Tiers
	rules     domain.ExitRules
	logger    *slog.Logger
	now       func() time.Time

	background sync.WaitGroup
}

// PositionDeps groups PositionService collaborators. Only Store is required.
type PositionDeps struct {
	Store     domain.PositionStore
	Audit     domain.AuditStore
	Finder    domain.ContractFinder
	Quotes    domain.QuoteSource
	Cache     domain.QuoteCache
	Locks     domain.LockManager
	Events    domain.EventSink
	Notifier  domain.AlertNotifier
	Snapshots *Snapshotter
	Lister    domain.BlobLister
	Reader    domain.BlobReader
	Metrics   *Metrics
}

// NewPositionService creates a PositionService.
func NewPositionService(deps PositionDeps, tiers domain.Tiers, rules domain.ExitRules, logger *slog.Logger) *PositionService {
	return &PositionService{
		store:     deps.Store,
		audit:     deps.Audit,
		finder:    deps.Finder,
		quotes:    deps.Quotes,
		cache:     deps.Cache,
		locks:     deps.Locks,
		events:    deps.Events,
		notifier:  deps.Notifier,
		snapshots: deps.Snapshots,
		lister:    deps.Lister,
		reader:    deps.Reader,
		metrics:   deps.Metrics,
		tiers:     tiers,
		rules:     rules,
		logger:    logger.With(slog.String("component", "position_service")),
		now:       time.Now,
	}
}

// Open finds a contract matching req, records it as a new active position
// entered at the mid price, and announces it with an entry snapshot.
func (s *PositionService) Open(ctx context.Context, req OpenRequest) (domain.Position, error) {
	if s.finder == nil {
		return domain.Position{}, fmt.Errorf("position_service: open: no contract finder configured")
	}
	if strings.TrimSpace(req.Underlying) == "" {
		return domain.Position{}, fmt.Errorf("position_service: open: %w: underlying is required", domain.ErrInvalidPosition)
	}

	contract, err := s.finder.FindContract(ctx, domain.ContractQuery{
		Underlying: req.Underlying,
		Kind:       req.Kind,
		Strike:     req.Strike,
		Expiration: req.Expiration,
		MinBid:     req.MinBid,
		MaxAsk:     req.MaxAsk,
		MinVolume:  req.MinVolume,
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: find contract: %w", err)
	}

	pos, err := domain.NewPosition(contract, s.now())
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: %w", err)
	}
	if err := s.store.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create position: %w", err)
	}

	s.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("entry_price", pos.EntryPrice),
	)
	s.logAudit(ctx, "position.opened", map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"entry_price": pos.EntryPrice,
		"opened_by":   req.OpenedBy,
	})
	s.publish(ctx, domain.Event{Type: domain.EventPositionOpened, PositionID: pos.ID, Price: pos.EntryPrice, At: pos.CreatedAt})

	quote := &domain.Quote{
		Mid: pos.EntryPrice, Last: contract.Last, Bid: contract.Bid, Ask: contract.Ask,
		Volume: contract.Volume, OpenInterest: contract.OpenInterest,
		UnderlyingPrice: contract.UnderlyingPrice, FetchedAt: pos.CreatedAt,
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.announceEntry(context.WithoutCancel(ctx), pos, quote)
	}()
	return pos, nil
}

func (s *PositionService) announceEntry(ctx context.Context, pos domain.Position, quote *domain.Quote) {
	ctx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()

	alert := entryAlert(pos, s.tiers, s.rules)
	if s.snapshots != nil {
		art, _, err := s.snapshots.Capture(ctx, domain.SnapshotEntry, pos, quote, 0)
		if err != nil {
			s.logger.WarnContext(ctx, "entry snapshot failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
		alert.Attachment = attachment(domain.SnapshotEntry, pos, art)
	}
	s.notify(ctx, domain.NotifyPositionOpened, alert)
}

// Close manually closes the position at its current price. It returns the
// resulting position and whether this call performed the close; closing an
// already closed position is not an error. domain.ErrLockHeld means another
// close for the same position is in progress.
func (s *PositionService) Close(ctx context.Context, id, by string) (domain.Position, bool, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "close:"+id, closeLockTTL)
		if err != nil {
			return domain.Position{}, false, fmt.Errorf("position_service: close %s: %w", id, err)
		}
		defer unlock()
	}

	applied, err := s.store.CloseIfActive(ctx, domain.CloseRequest{
		PositionID: id,
		Reason:     domain.CloseReasonManual,
		ClosedBy:   by,
		ClosedAt:   s.now().UTC(),
	})
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("position_service: close %s: %w", id, err)
	}

	pos, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, applied, fmt.Errorf("position_service: reload %s: %w", id, err)
	}
	if !applied {
		return pos, false, nil
	}

	s.metrics.closed(domain.CloseReasonManual)
	s.logger.InfoContext(ctx, "position closed manually",
		slog.String("position_id", id),
		slog.String("closed_by", by),
	)
	s.logAudit(ctx, "position.closed", map[string]any{
		"position_id": id,
		"reason":      string(domain.CloseReasonManual),
		"closed_by":   by,
		"exit_price":  pos.ExitPrice,
	})
	s.publish(ctx, domain.TradeClosedEvent(id, domain.CloseReasonManual, s.now().UTC()))

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
		defer cancel()
		s.notify(nctx, domain.NotifyManualClose, manualCloseAlert(pos))
	}()
	return pos, true, nil
}

// Get returns one position.
func (s *PositionService) Get(ctx context.Context, id string) (domain.Position, error) {
	return s.store.GetByID(ctx, id)
}

// ListActive returns every active position.
func (s *PositionService) ListActive(ctx context.Context) ([]domain.Position, error) {
	return s.store.ListActive(ctx)
}

// ListHistory returns closed positions.
func (s *PositionService) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return s.store.ListHistory(ctx, opts)
}

// LatestQuote returns the poller's cached quote for an active position,
// falling back to a live fetch when the cache has none.
func (s *PositionService) LatestQuote(ctx context.Context, id string) (domain.Quote, error) {
	pos, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.Quote{}, err
	}
	if s.cache != nil {
		q, err := s.cache.GetQuote(ctx, id)
		if err == nil {
			return q, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.DebugContext(ctx, "quote cache read failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	if !pos.IsActive() || s.quotes == nil {
		return domain.Quote{}, fmt.Errorf("position_service: quote %s: %w", id, domain.ErrNoQuote)
	}
	return s.quotes.GetQuote(ctx, pos.QuoteRequest())
}

// Snapshots lists stored snapshot objects for a position.
func (s *PositionService) Snapshots(ctx context.Context, id string) ([]domain.BlobInfo, error) {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if s.lister == nil {
		return []domain.BlobInfo{}, nil
	}
	infos, err := s.lister.List(ctx, snapshotPrefix(id))
	if err != nil {
		return nil, fmt.Errorf("position_service: list snapshots %s: %w", id, err)
	}
	return infos, nil
}

// AuditLog returns audit entries, newest first.
func (s *PositionService) AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return []domain.AuditEntry{}, nil
	}
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: audit log: %w", err)
	}
	return entries, nil
}

// SnapshotObject opens one stored snapshot of a position by file name, as
// listed by Snapshots. The caller closes the reader.
func (s *PositionService) SnapshotObject(ctx context.Context, id, name string) (io.ReadCloser, error) {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if s.reader == nil || name == "" || name == "." || name == ".." || path.Base(name) != name {
		return nil, fmt.Errorf("position_service: snapshot %s/%s: %w", id, name, domain.ErrNotFound)
	}
	rc, err := s.reader.Get(ctx, snapshotPrefix(id)+name)
	if err != nil {
		return nil, fmt.Errorf("position_service: snapshot %s/%s: %w", id, name, err)
	}
	return rc, nil
}

// Wait blocks until background announcements finish.
func (s *PositionService) Wait() {
	s.background.Wait()
}

func (s *PositionService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) publish(ctx context.Context, evt domain.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("type", string(evt.Type)),
			slog.String("position_id", evt.PositionID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) notify(ctx context.Context, event string, alert domain.Alert) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, alert); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
