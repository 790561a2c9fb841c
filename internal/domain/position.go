package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PositionStatus tracks whether a position is still being monitored.
type PositionStatus string

const (
	PositionStatusActive PositionStatus = "active"
	PositionStatusClosed PositionStatus = "closed"
)

// OptionKind is the contract side.
type OptionKind string

const (
	OptionKindCall OptionKind = "CALL"
	OptionKindPut  OptionKind = "PUT"
)

// ParseOptionKind accepts "call"/"put" in any case.
func ParseOptionKind(s string) (OptionKind, error) {
	switch OptionKind(strings.ToUpper(strings.TrimSpace(s))) {
	case OptionKindCall:
		return OptionKindCall, nil
	case OptionKindPut:
		return OptionKindPut, nil
	default:
		return "", fmt.Errorf("%w: unknown option kind %q", ErrInvalidPosition, s)
	}
}

// Side returns the lower-case form used by quote APIs.
func (k OptionKind) Side() string {
	return strings.ToLower(string(k))
}

// CloseReason records which trigger moved a position to closed.
type CloseReason string

const (
	CloseReasonNone     CloseReason = ""
	CloseReasonExpired  CloseReason = "Expired"
	CloseReasonStopLoss CloseReason = "StopLoss"
	CloseReasonManual   CloseReason = "Manual"
)

// MaxGoal is the highest profit tier a position can reach.
const MaxGoal = 5

// Position is a tracked option trade. EntryPrice never changes after
// creation; PeakPrice only rises while the position is active; LastGoal only
// rises and stays within [0, MaxGoal].
type Position struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"` // full OCC contract symbol
	Underlying string     `json:"underlying"`
	Strike     float64    `json:"strike"`
	Kind       OptionKind `json:"kind"`
	Expiration time.Time  `json:"expiration"`

	EntryPrice   float64  `json:"entry_price"`
	CurrentPrice float64  `json:"current_price"`
	PeakPrice    float64  `json:"peak_price_today"`
	ExitPrice    *float64 `json:"exit_price,omitempty"`

	Status      PositionStatus `json:"status"`
	CloseReason CloseReason    `json:"close_reason,omitempty"`
	ClosedBy    string         `json:"closed_by,omitempty"`
	LastGoal    int            `json:"last_goal_achieved"`

	// Opaque references to rendered artifacts. Never interpreted here.
	EntrySnapshot string `json:"entry_snapshot,omitempty"`
	PeakSnapshot  string `json:"peak_snapshot,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsActive reports whether the position is still monitored.
func (p Position) IsActive() bool {
	return p.Status == PositionStatusActive
}

// Contract identifies an option contract as returned by a chain lookup.
type Contract struct {
	Symbol          string
	Underlying      string
	Strike          float64
	Kind            OptionKind
	Expiration      time.Time
	Bid             float64
	Ask             float64
	Last            float64
	Volume          int64
	OpenInterest    int64
	UnderlyingPrice float64
}

// Mid returns the bid/ask midpoint.
func (c Contract) Mid() float64 {
	return (c.Bid + c.Ask) / 2
}

// NewPosition builds an active position entered at the contract's mid price.
func NewPosition(c Contract, now time.Time) (Position, error) {
	entry := c.Mid()
	switch {
	case strings.TrimSpace(c.Underlying) == "":
		return Position{}, fmt.Errorf("%w: underlying is required", ErrInvalidPosition)
	case c.Strike <= 0:
		return Position{}, fmt.Errorf("%w: strike must be positive", ErrInvalidPosition)
	case c.Kind != OptionKindCall && c.Kind != OptionKindPut:
		return Position{}, fmt.Errorf("%w: unknown option kind %q", ErrInvalidPosition, c.Kind)
	case c.Expiration.IsZero():
		return Position{}, fmt.Errorf("%w: expiration is required", ErrInvalidPosition)
	case entry <= 0:
		return Position{}, fmt.Errorf("%w: entry price must be positive", ErrInvalidPosition)
	}

	now = now.UTC()
	return Position{
		ID:           uuid.NewString(),
		Symbol:       c.Symbol,
		Underlying:   strings.ToUpper(c.Underlying),
		Strike:       c.Strike,
		Kind:         c.Kind,
		Expiration:   c.Expiration.UTC(),
		EntryPrice:   entry,
		CurrentPrice: entry,
		PeakPrice:    entry,
		Status:       PositionStatusActive,
		LastGoal:     0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// QuoteRequest returns the key used to fetch a fresh quote for p.
func (p Position) QuoteRequest() QuoteRequest {
	return QuoteRequest{
		Underlying: p.Underlying,
		Strike:     p.Strike,
		Kind:       p.Kind,
		Expiration: p.Expiration,
	}
}
