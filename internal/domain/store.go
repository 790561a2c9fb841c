package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MutationKind distinguishes the writes the poller can batch.
type MutationKind int

const (
	MutationPrice MutationKind = iota
	MutationClose
	// MutationTouch writes nothing; it only confirms the position is still
	// active when the batch commits.
	MutationTouch
)

// Mutation is one position write inside a poll-cycle batch. Every mutation is
// conditional on the position still being active at commit time.
type Mutation struct {
	Kind       MutationKind
	PositionID string

	// MutationPrice
	CurrentPrice float64
	PeakPrice    float64

	// MutationClose
	Reason    CloseReason
	ExitPrice float64
	ClosedAt  time.Time
}

// BatchResult reports, per mutation index, whether the write was applied.
// A false entry means the position was no longer active when the batch
// committed.
type BatchResult struct {
	Applied []bool
}

// CloseRequest asks the store to close a position if it is still active.
// A nil ExitPrice exits at the position's current price as read inside the
// same atomic operation.
type CloseRequest struct {
	PositionID string
	Reason     CloseReason
	ExitPrice  *float64
	ClosedBy   string
	ClosedAt   time.Time
}

// SnapshotKind names which opaque artifact slot a snapshot fills.
type SnapshotKind string

const (
	SnapshotEntry SnapshotKind = "entry"
	SnapshotPeak  SnapshotKind = "peak"
)

// PositionStore is the durable ledger. CommitBatch and CloseIfActive are
// atomic: the active-status check and the write happen under the same lock or
// transaction, so the first committed close wins and later ones are no-ops.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListActive(ctx context.Context) ([]Position, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)

	// CommitBatch applies all mutations in one transaction. Any error rolls
	// back the whole batch.
	CommitBatch(ctx context.Context, muts []Mutation) (BatchResult, error)

	// CloseIfActive transitions an active position to closed. It returns
	// applied=false with a nil error when the position was already closed,
	// and ErrNotFound when it does not exist.
	CloseIfActive(ctx context.Context, req CloseRequest) (applied bool, err error)

	// AdvanceGoal raises LastGoal to goal when the position is active and its
	// current goal is lower. It reports whether the write happened.
	AdvanceGoal(ctx context.Context, id string, goal int) (applied bool, err error)

	SetSnapshot(ctx context.Context, id string, kind SnapshotKind, ref string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
