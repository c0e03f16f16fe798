package notify

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/roomcast/roomcast/internal/identity"
	"github.com/roomcast/roomcast/internal/presence"
	"go.uber.org/zap"
)

// Event names emitted by the lifecycle handler itself. Business collaborators
// pass their own names (room_status_updated, task_completed, ...) through the
// Broadcast* calls as opaque strings.
const (
	EventConnected        = "connected"
	EventUserConnected    = "user_connected"
	EventUserDisconnected = "user_disconnected"
	EventRoomJoined       = "room_joined"
)

// Presence is the read-only view handed to status and diagnostic endpoints.
type Presence struct {
	Count      int                 `json:"count"`
	Identities []identity.Identity `json:"identities"`
}

// Dispatcher is the only way collaborators push real-time events to connected
// clients. Every outgoing payload is stamped with a delivery timestamp at
// send time, overriding any caller-supplied field of the same name.
type Dispatcher struct {
	logger   *zap.Logger
	registry *presence.Registry
}

func NewDispatcher(logger *zap.Logger, registry *presence.Registry) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		registry: registry,
	}
}

// BroadcastToTenant fans an event out to every live connection of one hotel.
// A hotel with zero connections is a no-op, not an error.
func (d *Dispatcher) BroadcastToTenant(hotelID string, event string, payload map[string]any) {
	d.registry.Broadcast(presence.Target{HotelID: hotelID}, d.stamp(event, payload))
}

// BroadcastToTenantExcept is the peer-notification variant: the whole tenant
// group minus the connection the notification is about.
func (d *Dispatcher) BroadcastToTenantExcept(hotelID string, exceptID string, event string, payload map[string]any) {
	d.registry.Broadcast(presence.Target{HotelID: hotelID, ExceptID: exceptID}, d.stamp(event, payload))
}

// BroadcastToRole delivers only to the hotel's connections holding the role.
func (d *Dispatcher) BroadcastToRole(hotelID string, role identity.Role, event string, payload map[string]any) {
	d.registry.Broadcast(presence.Target{HotelID: hotelID, Role: role}, d.stamp(event, payload))
}

// BroadcastToChannel delivers to the explicit (hotel, channel) group only.
func (d *Dispatcher) BroadcastToChannel(hotelID string, channel string, event string, payload map[string]any) {
	d.registry.Broadcast(presence.Target{HotelID: hotelID, Channel: channel}, d.stamp(event, payload))
}

// Send delivers an acknowledgment event to a single connection.
func (d *Dispatcher) Send(connectionID string, event string, payload map[string]any) {
	if !d.registry.SendTo(connectionID, d.stamp(event, payload)) {
		d.logger.Debug("dropped direct event, connection gone or backlogged",
			zap.String("connectionId", connectionID),
			zap.String("event", event))
	}
}

// GetPresence reports who is currently connected for a hotel.
func (d *Dispatcher) GetPresence(hotelID string) Presence {
	identities := d.registry.List(hotelID)

	return Presence{
		Count:      len(identities),
		Identities: identities,
	}
}

func (d *Dispatcher) stamp(event string, payload map[string]any) presence.Event {
	stamped := make(map[string]any, len(payload)+1)
	for key, value := range payload {
		stamped[key] = value
	}
	stamped["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	return presence.Event{
		Id:      gonanoid.Must(),
		Event:   event,
		Payload: stamped,
	}
}
