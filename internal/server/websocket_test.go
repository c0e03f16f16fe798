package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/roomcast/roomcast/internal/auth"
	"github.com/roomcast/roomcast/internal/directory"
	"github.com/roomcast/roomcast/internal/handler"
	"github.com/roomcast/roomcast/internal/ierr"
	"github.com/roomcast/roomcast/internal/notify"
	"github.com/roomcast/roomcast/internal/presence"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type fakeDirectory struct {
	users  map[string]directory.User
	hotels map[string]directory.Hotel
}

func (f *fakeDirectory) FindUser(_ context.Context, userID string) (directory.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return directory.User{}, directory.ErrNotFound
	}

	return user, nil
}

func (f *fakeDirectory) FindHotel(_ context.Context, hotelID string) (directory.Hotel, error) {
	hotel, ok := f.hotels[hotelID]
	if !ok {
		return directory.Hotel{}, directory.ErrNotFound
	}

	return hotel, nil
}

type testStack struct {
	server       *httptest.Server
	websocketURL string
	registry     *presence.Registry
	dispatcher   *notify.Dispatcher
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	dir := &fakeDirectory{
		users: map[string]directory.User{
			"alice": {ID: "alice", HotelID: "hotel-1", Role: "hotel_manager", Name: "Alice", Email: "alice@example.com", Active: true},
			"bob":   {ID: "bob", HotelID: "hotel-1", Role: "front_desk", Name: "Bob", Email: "bob@example.com", Active: true},
			"carol": {ID: "carol", HotelID: "hotel-2", Role: "hotel_manager", Name: "Carol", Email: "carol@example.com", Active: true},
			"dave":  {ID: "dave", HotelID: "hotel-3", Role: "front_desk", Name: "Dave", Email: "dave@example.com", Active: true},
		},
		hotels: map[string]directory.Hotel{
			"hotel-1": {ID: "hotel-1", Name: "Grand Plaza", SubscriptionStatus: "active"},
			"hotel-2": {ID: "hotel-2", Name: "Sea View", SubscriptionStatus: "trial"},
			"hotel-3": {ID: "hotel-3", Name: "Old Mill", SubscriptionStatus: "suspended"},
		},
	}

	logger := zap.NewNop()
	registry := presence.NewRegistry(logger)
	dispatcher := notify.NewDispatcher(logger, registry)
	authenticator := auth.NewAuthenticator(testSecret, []string{"test-api-key"}, dir)

	heartbeatHandler := handler.NewHeartbeatHandler()
	joinHandler := handler.NewJoinHandler(registry, dispatcher)
	router := NewRouter(logger, heartbeatHandler, joinHandler)

	websocketServer := NewWebSocketServer(logger, &websocket.Upgrader{}, authenticator, registry, dispatcher, router)

	mainRouter := mux.NewRouter()
	websocketServer.Register(mainRouter)

	server := httptest.NewServer(mainRouter)
	t.Cleanup(server.Close)

	u, _ := url.Parse(server.URL)
	u.Scheme = "ws"
	u.Path = "/websocket"

	return &testStack{
		server:       server,
		websocketURL: u.String(),
		registry:     registry,
		dispatcher:   dispatcher,
	}
}

func signToken(t *testing.T, userID string, hotelID string, role string, expiresIn time.Duration) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":     userID,
		"exp":     time.Now().Add(expiresIn).Unix(),
		"iat":     time.Now().Unix(),
		"hotelId": hotelID,
		"role":    role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(testSecret))
	assert.NoError(t, err)

	return tokenString
}

func dial(t *testing.T, stack *testStack, token string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(stack.websocketURL+"?token="+token, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

// frame covers both wire shapes: rpc replies and event notifications.
type frame struct {
	Id        int              `json:"id,omitempty"`
	Method    string           `json:"method,omitempty"`
	Params    *json.RawMessage `json:"params,omitempty"`
	RequestId int              `json:"requestId,omitempty"`
	Result    *json.RawMessage `json:"result,omitempty"`
	Error     *ierr.Error      `json:"error,omitempty"`
}

// waitEvent reads frames until the named event notification arrives, skipping
// unrelated frames such as interleaved rpc replies.
func waitEvent(t *testing.T, conn *websocket.Conn, name string) presence.Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for event %q: %v", name, err)
		}

		if f.Method != "event" || f.Params == nil {
			continue
		}

		var event presence.Event
		assert.NoError(t, json.Unmarshal(*f.Params, &event))

		if event.Event == name {
			return event
		}
	}
}

func waitReply(t *testing.T, conn *websocket.Conn, requestID int) frame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for reply %d: %v", requestID, err)
		}

		if f.RequestId == requestID {
			return f
		}
	}
}

func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %s", raw)
	}
}

func TestWebSocketServer_ConnectLifecycle(t *testing.T) {
	stack := newTestStack(t)

	aliceConn := dial(t, stack, signToken(t, "alice", "hotel-1", "hotel_manager", time.Hour))

	connected := waitEvent(t, aliceConn, notify.EventConnected)
	assert.Equal(t, "alice", connected.Payload["userId"])
	assert.Equal(t, "hotel-1", connected.Payload["hotelId"])
	assert.Equal(t, "hotel_manager", connected.Payload["role"])
	assert.Equal(t, "Alice", connected.Payload["name"])
	assert.Contains(t, connected.Payload, "timestamp")
	assert.Equal(t, 1, stack.registry.Count("hotel-1"))

	// A peer joining the same hotel is announced to alice, not to herself.
	bobConn := dial(t, stack, signToken(t, "bob", "hotel-1", "front_desk", time.Hour))
	waitEvent(t, bobConn, notify.EventConnected)

	joined := waitEvent(t, aliceConn, notify.EventUserConnected)
	assert.Equal(t, "bob", joined.Payload["userId"])
	assert.Equal(t, "front_desk", joined.Payload["role"])
	assert.Equal(t, 2, stack.registry.Count("hotel-1"))

	// Peer departure is announced to whoever remains, exactly once.
	bobConn.Close()

	left := waitEvent(t, aliceConn, notify.EventUserDisconnected)
	assert.Equal(t, "bob", left.Payload["userId"])

	assert.Eventually(t, func() bool {
		return stack.registry.Count("hotel-1") == 1
	}, time.Second, 10*time.Millisecond)

	identities := stack.registry.List("hotel-1")
	assert.Len(t, identities, 1)
	assert.Equal(t, "alice", identities[0].UserID)
}

func TestWebSocketServer_TenantIsolation(t *testing.T) {
	stack := newTestStack(t)

	aliceConn := dial(t, stack, signToken(t, "alice", "hotel-1", "hotel_manager", time.Hour))
	carolConn := dial(t, stack, signToken(t, "carol", "hotel-2", "hotel_manager", time.Hour))

	waitEvent(t, aliceConn, notify.EventConnected)
	waitEvent(t, carolConn, notify.EventConnected)

	stack.dispatcher.BroadcastToTenant("hotel-1", "room_status_updated", map[string]any{"roomId": 12})

	event := waitEvent(t, aliceConn, "room_status_updated")
	assert.Equal(t, float64(12), event.Payload["roomId"])

	// Carol shares the role but not the hotel.
	stack.dispatcher.BroadcastToRole("hotel-1", "hotel_manager", "task_completed", map[string]any{"taskId": 5})
	waitEvent(t, aliceConn, "task_completed")

	assertSilent(t, carolConn)
}

func TestWebSocketServer_ChannelJoin(t *testing.T) {
	stack := newTestStack(t)

	aliceConn := dial(t, stack, signToken(t, "alice", "hotel-1", "hotel_manager", time.Hour))
	carolConn := dial(t, stack, signToken(t, "carol", "hotel-2", "hotel_manager", time.Hour))
	waitEvent(t, aliceConn, notify.EventConnected)
	waitEvent(t, carolConn, notify.EventConnected)

	err := aliceConn.WriteJSON(json.RawMessage(`{"id":2,"method":"join","params":{"channel":"housekeeping"}}`))
	assert.NoError(t, err)

	reply := waitReply(t, aliceConn, 2)
	assert.Nil(t, reply.Error)

	var joinResponse handler.JoinResponse
	assert.NoError(t, json.Unmarshal(*reply.Result, &joinResponse))
	assert.True(t, joinResponse.Joined)

	confirmation := waitEvent(t, aliceConn, notify.EventRoomJoined)
	assert.Equal(t, "housekeeping", confirmation.Payload["channel"])

	// Carol joins a channel with the same name in her own hotel; the groups
	// are distinct.
	err = carolConn.WriteJSON(json.RawMessage(`{"id":3,"method":"join","params":{"channel":"housekeeping"}}`))
	assert.NoError(t, err)
	waitEvent(t, carolConn, notify.EventRoomJoined)

	stack.dispatcher.BroadcastToChannel("hotel-1", "housekeeping", "cleaning_needed", map[string]any{"roomId": 31})

	event := waitEvent(t, aliceConn, "cleaning_needed")
	assert.Equal(t, float64(31), event.Payload["roomId"])

	assertSilent(t, carolConn)
}

func TestWebSocketServer_UnknownChannelJoinIsIgnored(t *testing.T) {
	stack := newTestStack(t)

	aliceConn := dial(t, stack, signToken(t, "alice", "hotel-1", "hotel_manager", time.Hour))
	waitEvent(t, aliceConn, notify.EventConnected)

	err := aliceConn.WriteJSON(json.RawMessage(`{"id":2,"method":"join","params":{"channel":"secret_ops"}}`))
	assert.NoError(t, err)

	reply := waitReply(t, aliceConn, 2)
	assert.Nil(t, reply.Error)

	var joinResponse handler.JoinResponse
	assert.NoError(t, json.Unmarshal(*reply.Result, &joinResponse))
	assert.False(t, joinResponse.Joined)

	stack.dispatcher.BroadcastToChannel("hotel-1", "secret_ops", "x", nil)
	assertSilent(t, aliceConn)
}

func TestWebSocketServer_Heartbeat(t *testing.T) {
	stack := newTestStack(t)

	aliceConn := dial(t, stack, signToken(t, "alice", "hotel-1", "hotel_manager", time.Hour))
	waitEvent(t, aliceConn, notify.EventConnected)

	err := aliceConn.WriteJSON(json.RawMessage(`{"id":7,"method":"heartbeat"}`))
	assert.NoError(t, err)

	reply := waitReply(t, aliceConn, 7)
	assert.Nil(t, reply.Error)

	var heartbeat handler.HeartbeatResponse
	assert.NoError(t, json.Unmarshal(*reply.Result, &heartbeat))
	assert.False(t, heartbeat.Timestamp.IsZero())
}

func TestWebSocketServer_UnknownMethod(t *testing.T) {
	stack := newTestStack(t)

	aliceConn := dial(t, stack, signToken(t, "alice", "hotel-1", "hotel_manager", time.Hour))
	waitEvent(t, aliceConn, notify.EventConnected)

	err := aliceConn.WriteJSON(json.RawMessage(`{"id":4,"method":"teleport"}`))
	assert.NoError(t, err)

	reply := waitReply(t, aliceConn, 4)
	assert.NotNil(t, reply.Error)
	assert.Equal(t, ierr.ErrorCodeNotFound, reply.Error.Code)
}

func TestWebSocketServer_HandshakeRefusals(t *testing.T) {
	stack := newTestStack(t)

	cases := []struct {
		name   string
		url    string
		status int
	}{
		{
			name:   "missing credential",
			url:    stack.websocketURL,
			status: http.StatusUnauthorized,
		},
		{
			name:   "expired credential",
			url:    stack.websocketURL + "?token=" + signToken(t, "alice", "hotel-1", "hotel_manager", -time.Hour),
			status: http.StatusUnauthorized,
		},
		{
			name:   "suspended hotel",
			url:    stack.websocketURL + "?token=" + signToken(t, "dave", "hotel-3", "front_desk", time.Hour),
			status: http.StatusForbidden,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(tc.url, nil)

			assert.Nil(t, conn)
			assert.ErrorIs(t, err, websocket.ErrBadHandshake)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}

	// A refused handshake leaves presence untouched.
	assert.Equal(t, 0, stack.registry.Count("hotel-1"))
	assert.Equal(t, 0, stack.registry.Count("hotel-3"))
}

func TestWebSocketServer_BearerHeaderCredential(t *testing.T) {
	stack := newTestStack(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+signToken(t, "alice", "hotel-1", "hotel_manager", time.Hour))

	conn, _, err := websocket.DefaultDialer.Dial(stack.websocketURL, header)
	assert.NoError(t, err)
	defer conn.Close()

	waitEvent(t, conn, notify.EventConnected)
	assert.Equal(t, 1, stack.registry.Count("hotel-1"))
}
