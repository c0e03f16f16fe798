package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/roomcast/roomcast/internal/identity"
	"github.com/roomcast/roomcast/internal/ierr"
	"github.com/roomcast/roomcast/internal/notify"
)

type TenantNotifyRequest struct {
	HotelID string         `json:"hotelId" validate:"required"`
	Event   string         `json:"event" validate:"required"`
	Payload map[string]any `json:"payload"`
}

type RoleNotifyRequest struct {
	HotelID string         `json:"hotelId" validate:"required"`
	Role    string         `json:"role" validate:"required"`
	Event   string         `json:"event" validate:"required"`
	Payload map[string]any `json:"payload"`
}

type ChannelNotifyRequest struct {
	HotelID string         `json:"hotelId" validate:"required"`
	Channel string         `json:"channel" validate:"required"`
	Event   string         `json:"event" validate:"required"`
	Payload map[string]any `json:"payload"`
}

type NotifyResponse struct {
	Accepted bool `json:"accepted"`
}

// NotifyHandler is the inbound surface for business-logic collaborators:
// room status changes, bookings, check-ins, task completions and the like
// arrive here after the owning handler has committed them.
type NotifyHandler struct {
	validate   *validator.Validate
	dispatcher *notify.Dispatcher
}

func NewNotifyHandler(dispatcher *notify.Dispatcher) *NotifyHandler {
	return &NotifyHandler{
		validate:   validator.New(),
		dispatcher: dispatcher,
	}
}

func (h *NotifyHandler) HandleTenant(ctx context.Context, req TenantNotifyRequest) (NotifyResponse, error) {
	if err := h.validate.Struct(req); err != nil {
		return NotifyResponse{}, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	h.dispatcher.BroadcastToTenant(req.HotelID, req.Event, req.Payload)

	return NotifyResponse{Accepted: true}, nil
}

func (h *NotifyHandler) HandleRole(ctx context.Context, req RoleNotifyRequest) (NotifyResponse, error) {
	if err := h.validate.Struct(req); err != nil {
		return NotifyResponse{}, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	role, err := identity.ParseRole(req.Role)
	if err != nil {
		return NotifyResponse{}, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	h.dispatcher.BroadcastToRole(req.HotelID, role, req.Event, req.Payload)

	return NotifyResponse{Accepted: true}, nil
}

func (h *NotifyHandler) HandleChannel(ctx context.Context, req ChannelNotifyRequest) (NotifyResponse, error) {
	if err := h.validate.Struct(req); err != nil {
		return NotifyResponse{}, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	h.dispatcher.BroadcastToChannel(req.HotelID, req.Channel, req.Event, req.Payload)

	return NotifyResponse{Accepted: true}, nil
}

func (h *NotifyHandler) HandlePresence(ctx context.Context, hotelID string) (notify.Presence, error) {
	if hotelID == "" {
		return notify.Presence{}, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("missing hotelId"))
	}

	return h.dispatcher.GetPresence(hotelID), nil
}
