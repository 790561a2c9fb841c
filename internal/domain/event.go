package domain

import (
	"context"
	"time"
)

// EventType names a ledger event published for downstream broadcast.
type EventType string

const (
	EventPriceUpdate      EventType = "price_update"
	EventTradeClosed      EventType = "trade_closed"
	EventMilestoneCrossed EventType = "milestone_crossed"
	EventPositionOpened   EventType = "position_opened"
)

// Event is the envelope sent to the EventSink. Only the fields relevant to
// Type are populated.
type Event struct {
	Type       EventType   `json:"type"`
	PositionID string      `json:"trade_id"`
	Price      float64     `json:"current_price,omitempty"`
	Peak       float64     `json:"peak_price,omitempty"`
	Reason     CloseReason `json:"reason,omitempty"`
	Tier       int         `json:"tier,omitempty"`
	RefPrice   float64     `json:"reference_price,omitempty"`
	At         time.Time   `json:"at"`
}

// PriceUpdateEvent builds a price_update event.
func PriceUpdateEvent(id string, price, peak float64, at time.Time) Event {
	return Event{Type: EventPriceUpdate, PositionID: id, Price: price, Peak: peak, At: at}
}

// TradeClosedEvent builds a trade_closed event.
func TradeClosedEvent(id string, reason CloseReason, at time.Time) Event {
	return Event{Type: EventTradeClosed, PositionID: id, Reason: reason, At: at}
}

// MilestoneEvent builds a milestone_crossed event.
func MilestoneEvent(id string, tier int, ref float64, at time.Time) Event {
	return Event{Type: EventMilestoneCrossed, PositionID: id, Tier: tier, RefPrice: ref, At: at}
}

// EventSink receives ledger events for broadcast. Publishing is best-effort;
// a failure never rolls back ledger state.
type EventSink interface {
	Publish(ctx context.Context, evt Event) error
}
