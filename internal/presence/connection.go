package presence

import (
	"github.com/roomcast/roomcast/internal/identity"
)

const sendBufferSize = 32

// Event is one outbound frame payload as delivered to a live connection.
// Payload always carries a server-set "timestamp" field by the time it is
// handed to the registry for delivery.
type Event struct {
	Id      string         `json:"id"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// Connection is one live, authenticated client session. It is owned by the
// Registry from Register until Deregister and is never persisted.
type Connection struct {
	Id       string
	Identity identity.Identity
	Send     chan Event
}

func NewConnection(id string, ident identity.Identity) *Connection {
	return &Connection{
		Id:       id,
		Identity: ident,
		Send:     make(chan Event, sendBufferSize),
	}
}
