package presence

// Explicit sub-channels a client may opt into. Joins for names outside this
// list are ignored; memberships are torn down wholesale at disconnect.
var allowedChannels = map[string]struct{}{
	"manager_dashboard": {},
	"front_desk":        {},
	"housekeeping":      {},
	"room_updates":      {},
}

func ChannelAllowed(name string) bool {
	_, ok := allowedChannels[name]
	return ok
}

// channelKey embeds the tenant, so tenant T's "housekeeping" channel can never
// collide with tenant U's.
type channelKey struct {
	hotelID string
	channel string
}
