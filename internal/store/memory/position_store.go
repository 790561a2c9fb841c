// Package memory implements the domain stores in process memory. It backs the
// "memory" database driver used for dry runs and service-level tests; the
// ledger is lost when the process exits.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// PositionStore implements domain.PositionStore with a single mutex. Every
// read-check-write happens under that mutex, which gives the same first
// commit wins behaviour as the row-locked Postgres store.
type PositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	now       func() time.Time

	// failNext, when set, makes the next CommitBatch fail before applying
	// anything.
	failNext error
}

// NewPositionStore creates an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions: make(map[string]domain.Position),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// FailNextCommit makes the next CommitBatch return err without writing.
func (s *PositionStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Create inserts a new position.
func (s *PositionStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[pos.ID]; ok {
		return fmt.Errorf("memory: create position %s: %w", pos.ID, domain.ErrAlreadyExists)
	}
	s.positions[pos.ID] = pos
	return nil
}

// GetByID returns a copy of the position.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

// ListActive returns every active position, oldest first.
func (s *PositionStore) ListActive(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Position
	for _, p := range s.positions {
		if p.IsActive() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListHistory returns closed positions, most recently closed first, filtered
// by close time and paginated by opts.
func (s *PositionStore) ListHistory(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Position
	for _, p := range s.positions {
		if p.IsActive() || p.ClosedAt == nil {
			continue
		}
		if opts.Since != nil && p.ClosedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && p.ClosedAt.After(*opts.Until) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClosedAt.Equal(*out[j].ClosedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ClosedAt.After(*out[j].ClosedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// CommitBatch applies the mutations all-or-nothing.
func (s *PositionStore) CommitBatch(_ context.Context, muts []domain.Mutation) (domain.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return domain.BatchResult{}, fmt.Errorf("memory: commit batch: %w", err)
	}

	// Stage on a copy so a bad mutation leaves nothing visible.
	staged := make(map[string]domain.Position, len(muts))
	res := domain.BatchResult{Applied: make([]bool, len(muts))}
	now := s.now()

	for i, m := range muts {
		p, ok := staged[m.PositionID]
		if !ok {
			p, ok = s.positions[m.PositionID]
			if !ok {
				continue
			}
		}
		if !p.IsActive() {
			continue
		}
		if m.Kind == domain.MutationTouch {
			res.Applied[i] = true
			continue
		}

		switch m.Kind {
		case domain.MutationPrice:
			p.CurrentPrice = m.CurrentPrice
			if m.PeakPrice > p.PeakPrice {
				p.PeakPrice = m.PeakPrice
			}
		case domain.MutationClose:
			closeInPlace(&p, m.Reason, m.ExitPrice, "", m.ClosedAt)
		default:
			return domain.BatchResult{}, fmt.Errorf("memory: commit batch: unknown mutation kind %d", m.Kind)
		}
		p.UpdatedAt = now
		staged[m.PositionID] = p
		res.Applied[i] = true
	}

	for id, p := range staged {
		s.positions[id] = p
	}
	return res, nil
}

// CloseIfActive closes the position unless it is already closed.
func (s *PositionStore) CloseIfActive(_ context.Context, req domain.CloseRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[req.PositionID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !p.IsActive() {
		return false, nil
	}

	exit := p.CurrentPrice
	if req.ExitPrice != nil {
		exit = *req.ExitPrice
	}
	closeInPlace(&p, req.Reason, exit, req.ClosedBy, req.ClosedAt)
	p.UpdatedAt = s.now()
	s.positions[p.ID] = p
	return true, nil
}

// AdvanceGoal raises LastGoal when the position is active and below goal.
func (s *PositionStore) AdvanceGoal(_ context.Context, id string, goal int) (bool, error) {
	if goal < 1 || goal > domain.MaxGoal {
		return false, fmt.Errorf("memory: advance goal %s: goal %d out of range", id, goal)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !p.IsActive() || p.LastGoal >= goal {
		return false, nil
	}
	p.LastGoal = goal
	p.UpdatedAt = s.now()
	s.positions[id] = p
	return true, nil
}

// SetSnapshot records an artifact reference.
func (s *PositionStore) SetSnapshot(_ context.Context, id string, kind domain.SnapshotKind, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	switch kind {
	case domain.SnapshotEntry:
		p.EntrySnapshot = ref
	case domain.SnapshotPeak:
		p.PeakSnapshot = ref
	default:
		return fmt.Errorf("memory: set snapshot %s: unknown kind %q", id, kind)
	}
	s.positions[id] = p
	return nil
}

func closeInPlace(p *domain.Position, reason domain.CloseReason, exit float64, by string, at time.Time) {
	closedAt := at.UTC()
	p.Status = domain.PositionStatusClosed
	p.CloseReason = reason
	p.ClosedBy = by
	p.ExitPrice = &exit
	p.ClosedAt = &closedAt
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
