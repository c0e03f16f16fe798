package handler

import (
	"context"
	"errors"

	"github.com/roomcast/roomcast/internal/notify"
	"github.com/roomcast/roomcast/internal/presence"
)

type JoinRequest struct {
	Channel string `json:"channel"`
}

type JoinResponse struct {
	Channel string `json:"channel"`
	Joined  bool   `json:"joined"`
}

// JoinHandler grants explicit sub-channel membership. Names outside the
// allow-list are ignored rather than rejected; the reply then reports
// joined=false and no room_joined event is emitted.
type JoinHandler struct {
	registry   *presence.Registry
	dispatcher *notify.Dispatcher
}

func NewJoinHandler(
	registry *presence.Registry,
	dispatcher *notify.Dispatcher,
) *JoinHandler {
	return &JoinHandler{
		registry,
		dispatcher,
	}
}

func (h *JoinHandler) Handle(ctx context.Context, req JoinRequest) (JoinResponse, error) {
	connection, ok := presence.ConnectionFromContext(ctx)
	if !ok {
		return JoinResponse{}, errors.New("connection not found in context")
	}

	joined := h.registry.JoinChannel(connection.Id, req.Channel)
	if joined {
		h.dispatcher.Send(connection.Id, notify.EventRoomJoined, map[string]any{
			"channel": req.Channel,
		})
	}

	return JoinResponse{
		Channel: req.Channel,
		Joined:  joined,
	}, nil
}
