package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Every
// lifecycle write is a single UPDATE guarded by status = 'active', so the
// first committed close wins and later ones affect zero rows.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, underlying, strike, option_kind, expiration,
	entry_price, current_price, peak_price_today, exit_price,
	status, close_reason, closed_by, last_goal_achieved,
	entry_snapshot, peak_snapshot, created_at, closed_at, updated_at`

const (
	updatePriceSQL = `UPDATE positions
		SET current_price = $2, peak_price_today = GREATEST(peak_price_today, $3), updated_at = NOW()
		WHERE id = $1 AND status = 'active'`

	closeSQL = `UPDATE positions
		SET status = 'closed', close_reason = $2, exit_price = COALESCE($3::numeric, current_price),
			closed_by = $4, closed_at = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'active'`

	// touchSQL holds a share lock until commit so a concurrent close waits
	// for the batch.
	touchSQL = `SELECT 1 FROM positions WHERE id = $1 AND status = 'active' FOR SHARE`
)

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                            domain.Position
		strike, entry, current, peak decimal.Decimal
		exit                         decimal.NullDecimal
		kind, status, reason         string
		lastGoal                     int16
	)
	err := row.Scan(
		&p.ID, &p.Symbol, &p.Underlying, &strike, &kind, &p.Expiration,
		&entry, &current, &peak, &exit,
		&status, &reason, &p.ClosedBy, &lastGoal,
		&p.EntrySnapshot, &p.PeakSnapshot, &p.CreatedAt, &p.ClosedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Strike = strike.InexactFloat64()
	p.Kind = domain.OptionKind(kind)
	p.EntryPrice = entry.InexactFloat64()
	p.CurrentPrice = current.InexactFloat64()
	p.PeakPrice = peak.InexactFloat64()
	if exit.Valid {
		v := exit.Decimal.InexactFloat64()
		p.ExitPrice = &v
	}
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.CloseReason(reason)
	p.LastGoal = int(lastGoal)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: position rows: %w", err)
	}
	return positions, nil
}

// Create inserts a new active position.
func (s *PositionStore) Create(ctx context.Context, pos domain.Position) error {
	const query = `INSERT INTO positions (
		id, symbol, underlying, strike, option_kind, expiration,
		entry_price, current_price, peak_price_today,
		status, last_goal_achieved, entry_snapshot, peak_snapshot, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := s.pool.Exec(ctx, query,
		pos.ID, pos.Symbol, pos.Underlying, decimal.NewFromFloat(pos.Strike), string(pos.Kind), pos.Expiration,
		decimal.NewFromFloat(pos.EntryPrice), decimal.NewFromFloat(pos.CurrentPrice), decimal.NewFromFloat(pos.PeakPrice),
		string(pos.Status), pos.LastGoal, pos.EntrySnapshot, pos.PeakSnapshot, pos.CreatedAt, pos.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: create position %s: %w", pos.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position %s: %w", pos.ID, err)
	}
	return nil
}

// GetByID returns a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns every active position from a single statement, so the
// poller sees one consistent snapshot.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'active' ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	return scanPositions(rows)
}

// ListHistory returns closed positions, most recently closed first.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	q := newListQuery(`SELECT `+positionSelectCols+` FROM positions WHERE status = 'closed'`, "closed_at")
	q.window(opts)
	q.page("closed_at DESC, id", opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	return scanPositions(rows)
}

// CommitBatch sends every mutation in one pipelined batch inside a single
// transaction. A row count of zero marks the mutation as not applied; any
// error rolls the whole batch back.
func (s *PositionStore) CommitBatch(ctx context.Context, muts []domain.Mutation) (domain.BatchResult, error) {
	res := domain.BatchResult{Applied: make([]bool, len(muts))}
	if len(muts) == 0 {
		return res, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("postgres: begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, m := range muts {
		switch m.Kind {
		case domain.MutationPrice:
			batch.Queue(updatePriceSQL, m.PositionID,
				decimal.NewFromFloat(m.CurrentPrice), decimal.NewFromFloat(m.PeakPrice))
		case domain.MutationClose:
			exit := decimal.NewNullDecimal(decimal.NewFromFloat(m.ExitPrice))
			batch.Queue(closeSQL, m.PositionID, string(m.Reason), exit, "", m.ClosedAt)
		case domain.MutationTouch:
			batch.Queue(touchSQL, m.PositionID)
		default:
			return domain.BatchResult{}, fmt.Errorf("postgres: unknown mutation kind %d for %s", m.Kind, m.PositionID)
		}
	}

	br := tx.SendBatch(ctx, batch)
	for i, m := range muts {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return domain.BatchResult{}, fmt.Errorf("postgres: batch mutation %s: %w", m.PositionID, err)
		}
		res.Applied[i] = tag.RowsAffected() == 1
	}
	if err := br.Close(); err != nil {
		return domain.BatchResult{}, fmt.Errorf("postgres: close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.BatchResult{}, fmt.Errorf("postgres: commit batch: %w", err)
	}
	return res, nil
}

// CloseIfActive closes the position when it is still active. A nil ExitPrice
// exits at current_price as read by the same UPDATE.
func (s *PositionStore) CloseIfActive(ctx context.Context, req domain.CloseRequest) (bool, error) {
	exit := decimal.NullDecimal{}
	if req.ExitPrice != nil {
		exit = decimal.NewNullDecimal(decimal.NewFromFloat(*req.ExitPrice))
	}
	closedAt := req.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, closeSQL, req.PositionID, string(req.Reason), exit, req.ClosedBy, closedAt)
	if err != nil {
		return false, fmt.Errorf("postgres: close position %s: %w", req.PositionID, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.mustExist(ctx, req.PositionID)
}

// AdvanceGoal raises last_goal_achieved when the position is active and the
// stored goal is lower.
func (s *PositionStore) AdvanceGoal(ctx context.Context, id string, goal int) (bool, error) {
	if goal < 1 || goal > domain.MaxGoal {
		return false, fmt.Errorf("postgres: goal %d out of range: %w", goal, domain.ErrInvalidPosition)
	}
	const query = `UPDATE positions SET last_goal_achieved = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND last_goal_achieved < $2`

	tag, err := s.pool.Exec(ctx, query, id, goal)
	if err != nil {
		return false, fmt.Errorf("postgres: advance goal %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.mustExist(ctx, id)
}

// SetSnapshot stores an opaque artifact reference on the position.
func (s *PositionStore) SetSnapshot(ctx context.Context, id string, kind domain.SnapshotKind, ref string) error {
	var query string
	switch kind {
	case domain.SnapshotEntry:
		query = `UPDATE positions SET entry_snapshot = $2, updated_at = NOW() WHERE id = $1`
	case domain.SnapshotPeak:
		query = `UPDATE positions SET peak_snapshot = $2, updated_at = NOW() WHERE id = $1`
	default:
		return fmt.Errorf("postgres: unknown snapshot kind %q", kind)
	}

	tag, err := s.pool.Exec(ctx, query, id, ref)
	if err != nil {
		return fmt.Errorf("postgres: set %s snapshot %s: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *PositionStore) mustExist(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM positions WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check position %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
