// Package httpapi exposes the chat handler as a JSON endpoint.
//
// Every failure, whatever its kind, is reported as 500 with {"error": msg};
// success is 200 with {"sessionId", "response"}.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/comigor/calmchat/internal/apperr"
	"github.com/comigor/calmchat/internal/chat"
	"github.com/comigor/calmchat/internal/config"
	"github.com/comigor/calmchat/internal/logger"
)

const maxBodyBytes = 1 << 20

// Handler runs one chat turn.
type Handler interface {
	Handle(ctx context.Context, req chat.Request) (chat.Reply, error)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

type chatResponse struct {
	SessionID string `json:"sessionId"`
	Response  string `json:"response"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server holds the routes of the chat API.
type Server struct {
	chat            Handler
	principalHeader string
	allowedOrigin   string
}

func New(h Handler, cfg config.ServerConfig) *Server {
	s := &Server{
		chat:            h,
		principalHeader: cfg.PrincipalHeader,
		allowedOrigin:   cfg.AllowedOrigin,
	}
	if s.principalHeader == "" {
		s.principalHeader = "X-Authenticated-User"
	}
	if s.allowedOrigin == "" {
		s.allowedOrigin = "*"
	}
	return s
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("OPTIONS /chat", s.handlePreflight)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := s.decode(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	logger.L.Info("chat request", "session", req.SessionID, "owner", req.OwnerID, "chars", len(req.Message))
	reply, err := s.chat.Handle(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, chatResponse{SessionID: reply.SessionID, Response: reply.Response})
}

func (s *Server) decode(r *http.Request) (chat.Request, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return chat.Request{}, apperr.New(apperr.Validation, "read request body", err)
	}
	var in chatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return chat.Request{}, apperr.New(apperr.Validation, "decode request body", err)
	}
	if in.Message == "" {
		return chat.Request{}, apperr.New(apperr.Validation, "decode request body", errors.New("message is required"))
	}
	return chat.Request{
		OwnerID:   r.Header.Get(s.principalHeader),
		SessionID: in.SessionID,
		Message:   in.Message,
	}, nil
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	logger.L.Error("chat request failed", "kind", apperr.KindOf(err).String(), "error", err)
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	s.cors(w)
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", fmt.Sprintf("Content-Type, Authorization, %s", s.principalHeader))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cors(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", s.allowedOrigin)
	w.Header().Set("Access-Control-Allow-Credentials", "true")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	s.cors(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("write response failed", "error", err)
	}
}
