// Package api is the REST surface next to the websocket endpoint:
// health, live stats, and channel administration. No business logic
// lives here, only HTTP handling and JSON serialization.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

// StatsProvider exposes live counters without coupling the API to the
// hub implementation.
type StatsProvider interface {
	Stats() map[string]any
}

type Server struct {
	store  interfaces.Store
	stats  StatsProvider
	dir    interfaces.Directory
	router *http.ServeMux
}

func NewServer(store interfaces.Store, stats StatsProvider, dir interfaces.Directory) *Server {
	s := &Server{
		store:  store,
		stats:  stats,
		dir:    dir,
		router: http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/channels", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleChannels))))
	s.router.Handle("/api/messages/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleMessage))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/stats", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleStats))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type CreateChannelRequest struct {
	Name      string   `json:"name"`
	CreatedBy string   `json:"createdBy"`
	Members   []string `json:"members"`
	IsPrivate bool     `json:"isPrivate"`
}

type ChannelResponse struct {
	Channel *types.Channel `json:"channel"`
}

type ListChannelsResponse struct {
	Channels []*types.Channel `json:"channels"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createChannel(w, r)
	case http.MethodGet:
		s.listChannels(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /api/channels
func (s *Server) createChannel(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		s.sendError(w, "Channel name is required", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(req.CreatedBy) {
		s.sendError(w, "Valid createdBy is required", http.StatusBadRequest)
		return
	}

	// The creator is always a member; duplicates in the request are
	// collapsed.
	seen := map[string]bool{req.CreatedBy: true}
	members := []string{req.CreatedBy}
	for _, m := range req.Members {
		if !types.IsValidUserID(m) {
			s.sendError(w, fmt.Sprintf("Invalid member id: %s", m), http.StatusBadRequest)
			return
		}
		if !seen[m] {
			seen[m] = true
			members = append(members, m)
		}
	}

	ch := &types.Channel{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Members:   members,
		CreatedBy: req.CreatedBy,
		IsPrivate: req.IsPrivate,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateChannel(r.Context(), ch); err != nil {
		slog.Error("channel creation failed", "name", req.Name, "error", err)
		s.sendError(w, "Failed to create channel", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(ChannelResponse{Channel: ch}); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

// GET /api/channels?user_id=...
func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !types.IsValidUserID(userID) {
		s.sendError(w, "Valid user_id is required", http.StatusBadRequest)
		return
	}

	channels, err := s.store.ListChannels(r.Context(), userID)
	if err != nil {
		slog.Error("channel listing failed", "userId", userID, "error", err)
		s.sendError(w, "Failed to list channels", http.StatusInternalServerError)
		return
	}
	if channels == nil {
		channels = []*types.Channel{}
	}
	if err := json.NewEncoder(w).Encode(ListChannelsResponse{Channels: channels}); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

type DeleteMessageResponse struct {
	MessageID string `json:"messageId"`
	Deleted   bool   `json:"deleted"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodDelete:
		s.deleteMessage(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// DELETE /api/messages/{id}?user_id=...
//
// Deletion happens over REST like message creation does, but the
// counterpart learns about it in realtime: every live connection of the
// receiver gets a message_deleted event carrying the deleted id.
func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	if messageID == "" || strings.Contains(messageID, "/") {
		s.sendError(w, "Message id is required", http.StatusBadRequest)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if !types.IsValidUserID(userID) {
		s.sendError(w, "Valid user_id is required", http.StatusBadRequest)
		return
	}

	msg, err := s.store.DeleteMessage(r.Context(), messageID, userID)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			s.sendError(w, "Message not found", http.StatusNotFound)
		case errors.Is(err, interfaces.ErrNotOwner):
			s.sendError(w, "Not authorized to delete this message", http.StatusForbidden)
		default:
			slog.Error("message deletion failed", "messageId", messageID, "error", err)
			s.sendError(w, "Failed to delete message", http.StatusInternalServerError)
		}
		return
	}

	s.dir.EmitToUser(msg.ReceiverID, types.EventMessageDeleted, messageID)

	if err := json.NewEncoder(w).Encode(DeleteMessageResponse{MessageID: messageID, Deleted: true}); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Database:  dbStatus,
	}); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

// GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := json.NewEncoder(w).Encode(s.stats.Stats()); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	}); err != nil {
		slog.Warn("error response encode failed", "error", err)
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
