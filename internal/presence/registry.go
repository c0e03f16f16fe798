package presence

import (
	"errors"
	"sync"

	"github.com/roomcast/roomcast/internal/identity"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Target selects the recipients of one broadcast. HotelID is always required;
// Role and Channel narrow the implicit tenant group, ExceptID excludes a
// single connection (used for peer join/leave notifications).
type Target struct {
	HotelID  string
	Role     identity.Role
	Channel  string
	ExceptID string
}

// Registry is the authoritative record of who is connected for which hotel,
// plus their explicit channel memberships. All maps are guarded by mu; the
// broadcast iteration holds the read lock for its whole duration so a
// connection can never be torn down mid-delivery.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex

	connections          map[string]*Connection
	connectionsByHotel   map[string]map[string]struct{}
	membersByChannel     map[channelKey]map[string]struct{}
	channelsByConnection map[string]map[channelKey]struct{}
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:               logger,
		connections:          make(map[string]*Connection),
		connectionsByHotel:   make(map[string]map[string]struct{}),
		membersByChannel:     make(map[channelKey]map[string]struct{}),
		channelsByConnection: make(map[string]map[channelKey]struct{}),
	}
}

// Register adds a connection under its hotel's presence set. Registering a
// live connection-id twice is a programming error, not a user-facing one.
func (r *Registry) Register(connection *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connection.Id]; ok {
		return errors.New("connection already registered")
	}

	hotelID := connection.Identity.HotelID

	if _, ok := r.connectionsByHotel[hotelID]; !ok {
		r.connectionsByHotel[hotelID] = make(map[string]struct{})
	}

	r.connectionsByHotel[hotelID][connection.Id] = struct{}{}
	r.connections[connection.Id] = connection

	return nil
}

// Deregister removes the connection from its hotel's set, the identity index
// and every channel membership, and closes its send channel. Unknown ids are
// a silent no-op; duplicate disconnect signals are expected.
func (r *Registry) Deregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deregisterLocked(connectionID)
}

// IMPORTANT: must be called only while the write lock is held.
func (r *Registry) deregisterLocked(connectionID string) {
	connection, ok := r.connections[connectionID]
	if !ok {
		return
	}

	hotelID := connection.Identity.HotelID

	hotelConnections, ok := r.connectionsByHotel[hotelID]
	if !ok {
		panic("inconsistent state: hotel not found in connectionsByHotel")
	}

	delete(hotelConnections, connectionID)
	if len(hotelConnections) == 0 {
		delete(r.connectionsByHotel, hotelID)
	}

	for key := range r.channelsByConnection[connectionID] {
		channelMembers, ok := r.membersByChannel[key]
		if !ok {
			panic("inconsistent state: channel not found in membersByChannel")
		}

		delete(channelMembers, connectionID)
		if len(channelMembers) == 0 {
			delete(r.membersByChannel, key)
		}
	}

	delete(r.channelsByConnection, connectionID)
	delete(r.connections, connectionID)
	close(connection.Send)
}

// JoinChannel grants membership in an allow-listed sub-channel, scoped to the
// connection's own hotel. Unknown channel names are ignored; the return value
// reports whether a membership was created.
func (r *Registry) JoinChannel(connectionID string, channel string) bool {
	if !ChannelAllowed(channel) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	connection, ok := r.connections[connectionID]
	if !ok {
		return false
	}

	key := channelKey{hotelID: connection.Identity.HotelID, channel: channel}

	if _, ok := r.membersByChannel[key]; !ok {
		r.membersByChannel[key] = make(map[string]struct{})
	}
	r.membersByChannel[key][connectionID] = struct{}{}

	if _, ok := r.channelsByConnection[connectionID]; !ok {
		r.channelsByConnection[connectionID] = make(map[channelKey]struct{})
	}
	r.channelsByConnection[connectionID][key] = struct{}{}

	return true
}

func (r *Registry) Count(hotelID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connectionsByHotel[hotelID])
}

// List returns the identities (not the connection handles) of every live
// connection for a hotel, in unspecified order.
func (r *Registry) List(hotelID string) []identity.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := lo.Keys(r.connectionsByHotel[hotelID])

	return lo.Map(ids, func(connectionID string, _ int) identity.Identity {
		return r.connections[connectionID].Identity
	})
}

// SendTo delivers an event to a single live connection. Reports false if the
// connection is gone or its send buffer is full.
func (r *Registry) SendTo(connectionID string, event Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connection, ok := r.connections[connectionID]
	if !ok {
		return false
	}

	select {
	case connection.Send <- event:
		return true
	default:
		return false
	}
}

// Broadcast delivers an event to every live connection matching the target.
// Delivery is best-effort, at-most-once: a recipient whose send buffer is
// full is evicted instead of blocking the caller.
func (r *Registry) Broadcast(target Target, event Event) {
	r.mu.RLock()

	var candidates map[string]struct{}
	if target.Channel != "" {
		candidates = r.membersByChannel[channelKey{hotelID: target.HotelID, channel: target.Channel}]
	} else {
		candidates = r.connectionsByHotel[target.HotelID]
	}

	var staleConnectionIds []string

	for connectionID := range candidates {
		if connectionID == target.ExceptID {
			continue
		}

		connection, ok := r.connections[connectionID]
		if !ok {
			continue
		}

		if target.Role != "" && connection.Identity.Role != target.Role {
			continue
		}

		select {
		case connection.Send <- event:
		default:
			r.logger.Warn("connection send buffer is full, evicting connection",
				zap.String("connectionId", connection.Id),
				zap.String("hotelId", connection.Identity.HotelID))

			staleConnectionIds = append(staleConnectionIds, connection.Id)
		}
	}

	r.mu.RUnlock()

	if len(staleConnectionIds) == 0 {
		return
	}

	r.mu.Lock()

	for _, connectionID := range staleConnectionIds {
		r.deregisterLocked(connectionID)
	}

	r.mu.Unlock()
}
