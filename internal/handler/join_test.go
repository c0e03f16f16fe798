package handler

import (
	"context"
	"testing"

	"github.com/roomcast/roomcast/internal/identity"
	"github.com/roomcast/roomcast/internal/notify"
	"github.com/roomcast/roomcast/internal/presence"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestJoinHandler(t *testing.T) {
	registry := presence.NewRegistry(zap.NewNop())
	dispatcher := notify.NewDispatcher(zap.NewNop(), registry)
	joinHandler := NewJoinHandler(registry, dispatcher)

	connection := presence.NewConnection("conn-1", identity.Identity{
		UserID:  "user-1",
		HotelID: "hotel-1",
		Role:    identity.RoleFrontDesk,
	})
	assert.NoError(t, registry.Register(connection))

	ctx := presence.WithConnection(context.Background(), connection)

	t.Run("allow-listed channel", func(t *testing.T) {
		response, err := joinHandler.Handle(ctx, JoinRequest{Channel: "housekeeping"})

		assert.NoError(t, err)
		assert.True(t, response.Joined)
		assert.Equal(t, "housekeeping", response.Channel)

		// A room_joined confirmation is delivered to the joining connection.
		event := <-connection.Send
		assert.Equal(t, notify.EventRoomJoined, event.Event)
		assert.Equal(t, "housekeeping", event.Payload["channel"])
		assert.Contains(t, event.Payload, "timestamp")
	})

	t.Run("unknown channel is silently ignored", func(t *testing.T) {
		response, err := joinHandler.Handle(ctx, JoinRequest{Channel: "secret_ops"})

		assert.NoError(t, err)
		assert.False(t, response.Joined)

		select {
		case event := <-connection.Send:
			t.Fatalf("unexpected event %q", event.Event)
		default:
		}

		// Memberships are unchanged: a broadcast to the unknown name reaches
		// nobody.
		dispatcher.BroadcastToChannel("hotel-1", "secret_ops", "x", nil)
		select {
		case <-connection.Send:
			t.Fatal("connection should not be a member of an unknown channel")
		default:
		}
	})

	t.Run("no connection in context", func(t *testing.T) {
		_, err := joinHandler.Handle(context.Background(), JoinRequest{Channel: "housekeeping"})

		assert.Error(t, err)
	})
}
