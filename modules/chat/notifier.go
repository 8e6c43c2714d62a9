package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/support-chat/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
)

// Notifier delivers a shaped event payload to a broadcast room. Delivery is best effort;
// implementations must not block on slow receivers.
type Notifier interface {
	Notify(ctx context.Context, room, event string, payload any)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, room, event string, payload any)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, room, event string, payload any) {
	f(ctx, room, event, payload)
}

// EventBusNotifier publishes room events on the mono EventBus for the broadcast module.
type EventBusNotifier struct {
	bus    mono.EventBus
	logger types.Logger
}

// NewEventBusNotifier creates a notifier publishing on bus.
func NewEventBusNotifier(bus mono.EventBus, logger types.Logger) *EventBusNotifier {
	return &EventBusNotifier{bus: bus, logger: logger}
}

// Notify publishes a RoomEvent. Failures are logged, never returned.
func (n *EventBusNotifier) Notify(_ context.Context, room, event string, payload any) {
	if n.bus == nil {
		n.logger.Warn("EventBus not set, dropping room event", "room", room, "event", event)
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("Failed to encode room event", "room", room, "event", event, "error", err)
		return
	}

	if err := events.RoomEventV1.Publish(n.bus, events.RoomEvent{
		Room:      room,
		Event:     event,
		Payload:   data,
		EmittedAt: time.Now(),
	}, nil); err != nil {
		n.logger.Error("Failed to publish room event", "room", room, "event", event, "error", err)
	}
}
