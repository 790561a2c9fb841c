package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// EventChannel is the Pub/Sub channel ledger events are published on.
const EventChannel = "positions"

// EventPublisher implements domain.EventSink by publishing JSON-encoded
// events to EventChannel.
type EventPublisher struct {
	bus domain.SignalBus
}

// NewEventPublisher creates an EventPublisher on top of bus.
func NewEventPublisher(bus domain.SignalBus) *EventPublisher {
	return &EventPublisher{bus: bus}
}

// Publish encodes evt and sends it on EventChannel.
func (p *EventPublisher) Publish(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("redis: encode %s event: %w", evt.Type, err)
	}
	return p.bus.Publish(ctx, EventChannel, payload)
}

var _ domain.EventSink = (*EventPublisher)(nil)
