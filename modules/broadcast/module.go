package broadcast

import (
	"context"
	"fmt"
	"log"

	"github.com/example/support-chat/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// BroadcastModule is an EventConsumerModule that fans chat room events out to sockets.
type BroadcastModule struct {
	hub *Hub
}

// Compile-time interface checks.
var _ mono.Module = (*BroadcastModule)(nil)
var _ mono.EventConsumerModule = (*BroadcastModule)(nil)
var _ mono.HealthCheckableModule = (*BroadcastModule)(nil)

// NewModule creates a new BroadcastModule.
func NewModule() *BroadcastModule {
	return &BroadcastModule{
		hub: NewHub(),
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// Start initializes the module.
func (m *BroadcastModule) Start(_ context.Context) error {
	log.Println("[broadcast] Module started")
	return nil
}

// Stop shuts down the module.
func (m *BroadcastModule) Stop(_ context.Context) error {
	emitted, delivered := m.hub.Stats()
	log.Printf("[broadcast] Module stopped - %d events emitted, %d frames delivered", emitted, delivered)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	emitted, delivered := m.hub.Stats()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"rooms":            m.hub.RoomCount(),
			"admin_sockets":    m.hub.RoomSize(events.AdminRoom),
			"events_emitted":   emitted,
			"frames_delivered": delivered,
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *BroadcastModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomEventV1, m.handleRoomEvent, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomEvent consumer: %w", err)
	}

	log.Println("[broadcast] Registered event consumers: RoomEvent")
	return nil
}

func (m *BroadcastModule) handleRoomEvent(_ context.Context, event events.RoomEvent, _ *mono.Msg) error {
	if event.Room == "" || event.Event == "" {
		log.Printf("[broadcast] Ignoring room event without room or name")
		return nil
	}
	m.hub.EmitRaw(event.Room, event.Event, event.Payload)
	return nil
}

// GetHub returns the hub for the API module to use.
func (m *BroadcastModule) GetHub() *Hub {
	return m.hub
}
