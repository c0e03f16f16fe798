package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/roomcast/roomcast/internal/auth"
	"github.com/roomcast/roomcast/internal/handler"
	"github.com/roomcast/roomcast/internal/ierr"
	"github.com/roomcast/roomcast/internal/notify"
	"github.com/roomcast/roomcast/internal/presence"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocketServer owns the connection lifecycle: handshake authentication,
// registration, the connected/peer-presence events, the read/write pumps and
// idempotent teardown.
type WebSocketServer struct {
	logger        *zap.Logger
	upgrader      *websocket.Upgrader
	authenticator *auth.Authenticator
	registry      *presence.Registry
	dispatcher    *notify.Dispatcher
	router        *Router
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	authenticator *auth.Authenticator,
	registry *presence.Registry,
	dispatcher *notify.Dispatcher,
	router *Router,
) *WebSocketServer {
	return &WebSocketServer{
		logger:        logger,
		upgrader:      upgrader,
		authenticator: authenticator,
		registry:      registry,
		dispatcher:    dispatcher,
		router:        router,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/websocket", s.handle)
}

func (s *WebSocketServer) handle(w http.ResponseWriter, r *http.Request) {
	// Authentication happens before the upgrade: a refused credential never
	// reaches the registry, and a client that vanishes mid-lookup cancels
	// the request context before registration can happen.
	ident, err := s.authenticator.Authenticate(r.Context(), credentialFromRequest(r))
	if err != nil {
		s.logger.Info("websocket handshake refused",
			zap.Error(err))
		writeJSONError(w, err)

		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.Error(err))

		return
	}

	connection := presence.NewConnection(gonanoid.Must(), ident)

	if err := s.registry.Register(connection); err != nil {
		// Colliding connection-ids would be a programming error; refuse this
		// connection rather than corrupting the registry.
		s.logger.Error("connection registration failed",
			zap.String("connectionId", connection.Id),
			zap.Error(err))
		conn.Close()

		return
	}

	s.logger.Info("websocket connection established",
		zap.String("connectionId", connection.Id),
		zap.String("userId", ident.UserID),
		zap.String("hotelId", ident.HotelID),
		zap.String("role", string(ident.Role)))

	s.dispatcher.Send(connection.Id, notify.EventConnected, map[string]any{
		"connectionId": connection.Id,
		"userId":       ident.UserID,
		"hotelId":      ident.HotelID,
		"role":         ident.Role,
		"name":         ident.Name,
	})
	s.dispatcher.BroadcastToTenantExcept(ident.HotelID, connection.Id, notify.EventUserConnected, map[string]any{
		"userId": ident.UserID,
		"name":   ident.Name,
		"role":   ident.Role,
	})

	writer := &connWriter{conn: conn}

	go s.writePump(writer, connection)
	s.readPump(writer, connection)
}

// readPump is the connection's event loop. It exits on client close, network
// failure or forced termination, and its deferred teardown is the single
// place presence side effects are undone.
func (s *WebSocketServer) readPump(writer *connWriter, connection *presence.Connection) {
	defer func() {
		s.teardown(connection)
		writer.conn.Close()
	}()

	writer.conn.SetReadLimit(4096)
	writer.conn.SetReadDeadline(time.Now().Add(pongWait))
	writer.conn.SetPongHandler(func(string) error {
		writer.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := presence.WithConnection(context.Background(), connection)

	for {
		var request handler.Request
		if err := writer.conn.ReadJSON(&request); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed",
					zap.String("connectionId", connection.Id),
					zap.Error(err))
			}

			return
		}

		response := s.router.RouteRequest(ctx, request)
		if response == nil {
			continue
		}

		if err := writer.WriteJSON(response); err != nil {
			return
		}
	}
}

func (s *WebSocketServer) writePump(writer *connWriter, connection *presence.Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		writer.conn.Close()
	}()

	for {
		select {
		case event, ok := <-connection.Send:
			if !ok {
				writer.WriteControl(websocket.CloseMessage, []byte{})

				return
			}

			rawEvent, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("failed to marshal event",
					zap.String("connectionId", connection.Id),
					zap.Error(err))

				continue
			}

			params := json.RawMessage(rawEvent)
			frame := handler.NewNotification("event", &params)

			if err := writer.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := writer.WriteControl(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown is idempotent at the registry level; duplicate disconnect signals
// for the same connection-id are a no-op there. The peer-left notification
// goes to whoever remains in the tenant group.
func (s *WebSocketServer) teardown(connection *presence.Connection) {
	s.registry.Deregister(connection.Id)

	ident := connection.Identity
	s.dispatcher.BroadcastToTenantExcept(ident.HotelID, connection.Id, notify.EventUserDisconnected, map[string]any{
		"userId": ident.UserID,
		"name":   ident.Name,
		"role":   ident.Role,
	})

	s.logger.Info("websocket connection closed",
		zap.String("connectionId", connection.Id),
		zap.String("hotelId", ident.HotelID))
}

// connWriter serializes writes from the read loop (rpc replies) and the write
// pump (events, pings) onto one websocket connection.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	return w.conn.WriteJSON(v)
}

func (w *connWriter) WriteControl(messageType int, data []byte) error {
	return w.conn.WriteControl(messageType, data, time.Now().Add(writeWait))
}

func credentialFromRequest(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authorization, "Bearer "); ok {
		return token
	}

	return r.URL.Query().Get("token")
}

func writeJSONError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := any(map[string]string{"code": string(ierr.ErrorCodeInternal), "message": "internal error"})

	var coded ierr.Error
	if errors.As(err, &coded) {
		status = coded.HTTPStatus()
		body = coded
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
