// Package hub bridges the ingest producers to live dashboard subscribers.
// Producers publish through the message bus; subscribers receive the
// active-event snapshot first, then live frames in publish order.
package hub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/enslite/enslite/internal/bus"
	"github.com/enslite/enslite/internal/codec"
	"github.com/enslite/enslite/internal/models"
	"github.com/enslite/enslite/internal/store"
)

// TopicEmergencyBroadcasts is the single topic carrying all live event
// and telemetry notifications.
const TopicEmergencyBroadcasts = "emergency_broadcasts"

// Hub fans emergency broadcasts out to subscribers with late-joiner
// snapshot delivery.
type Hub struct {
	bus    bus.Bus
	store  store.Store
	logger *slog.Logger
}

// New creates a Hub over the given bus and store.
func New(b bus.Bus, st store.Store, logger *slog.Logger) *Hub {
	return &Hub{bus: b, store: st, logger: logger}
}

// PublishEvent broadcasts a newly created emergency event. Callers must
// only invoke this after the store write was acknowledged.
func (h *Hub) PublishEvent(ctx context.Context, ev models.EmergencyEvent) error {
	return h.bus.Publish(ctx, TopicEmergencyBroadcasts, codec.EncodeEmergencyEvent(ev))
}

// PublishTelemetry broadcasts a persisted telemetry record linked to an
// emergency event.
func (h *Hub) PublishTelemetry(ctx context.Context, rec models.TelemetryRecord) error {
	return h.bus.Publish(ctx, TopicEmergencyBroadcasts, codec.EncodeDroneData(rec))
}

// Subscribe joins the broadcast topic. The returned channel yields the
// initial_events snapshot before any message published strictly after
// this call returns; a message racing the subscription is buffered on
// the bus and delivered after the snapshot, never duplicated or
// reordered. The channel closes on cancel() or bus shutdown.
func (h *Hub) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	// Join the bus before reading the snapshot so no message published
	// after this point is missed.
	live, unsubscribe, err := h.bus.Subscribe(TopicEmergencyBroadcasts)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe to bus: %w", err)
	}

	events, err := h.store.ActiveEvents(ctx)
	if err != nil {
		unsubscribe()
		return nil, nil, fmt.Errorf("load active events: %w", err)
	}

	out := make(chan []byte, 1)
	go func() {
		defer close(out)

		select {
		case out <- codec.EncodeInitialEvents(events):
		case <-ctx.Done():
			return
		}

		for {
			select {
			case msg, ok := <-live:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, unsubscribe, nil
}
