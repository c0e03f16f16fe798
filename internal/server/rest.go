package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/roomcast/roomcast/internal/auth"
	"github.com/roomcast/roomcast/internal/handler"
	"github.com/roomcast/roomcast/internal/ierr"
	"go.uber.org/zap"
)

// RESTServer is the inbound surface for business-logic collaborators. They
// authenticate with an API key; connected clients never reach these routes.
type RESTServer struct {
	logger *zap.Logger

	notifyHandler *handler.NotifyHandler
	authenticator *auth.Authenticator
}

func NewRESTServer(
	logger *zap.Logger,
	notifyHandler *handler.NotifyHandler,
	authenticator *auth.Authenticator,
) *RESTServer {
	return &RESTServer{
		logger,
		notifyHandler,
		authenticator,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	router.HandleFunc("/notify/tenant", s.guard(s.handleNotifyTenant)).Methods("POST")
	router.HandleFunc("/notify/role", s.guard(s.handleNotifyRole)).Methods("POST")
	router.HandleFunc("/notify/channel", s.guard(s.handleNotifyChannel)).Methods("POST")
	router.HandleFunc("/presence/{hotelId}", s.guard(s.handlePresence)).Methods("GET")
}

func (s *RESTServer) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")

		if err := s.authenticator.AuthenticateAPIKey(apiKey); err != nil {
			writeJSONError(w, err)

			return
		}

		next(w, r)
	}
}

func (s *RESTServer) handleNotifyTenant(w http.ResponseWriter, r *http.Request) {
	var req handler.TenantNotifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, err)

		return
	}

	response, err := s.notifyHandler.HandleTenant(r.Context(), req)
	s.respond(w, response, err)
}

func (s *RESTServer) handleNotifyRole(w http.ResponseWriter, r *http.Request) {
	var req handler.RoleNotifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, err)

		return
	}

	response, err := s.notifyHandler.HandleRole(r.Context(), req)
	s.respond(w, response, err)
}

func (s *RESTServer) handleNotifyChannel(w http.ResponseWriter, r *http.Request) {
	var req handler.ChannelNotifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, err)

		return
	}

	response, err := s.notifyHandler.HandleChannel(r.Context(), req)
	s.respond(w, response, err)
}

func (s *RESTServer) handlePresence(w http.ResponseWriter, r *http.Request) {
	hotelID := mux.Vars(r)["hotelId"]

	response, err := s.notifyHandler.HandlePresence(r.Context(), hotelID)
	s.respond(w, response, err)
}

func (s *RESTServer) respond(w http.ResponseWriter, response any, err error) {
	if err != nil {
		var coded ierr.Error
		if !errors.As(err, &coded) || coded.Code == ierr.ErrorCodeInternal {
			s.logger.Error("failed to handle notify request",
				zap.Error(err))
		}

		writeJSONError(w, err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("failed to encode response",
			zap.Error(err))
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid request body"))
	}

	return nil
}
