// Package api provides the HTTP handlers for room management, classification
// ingest, and recent-alert queries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"proctor/internal/events"
	"proctor/internal/rooms"
)

// Ingestor accepts classification results and serves recent-alert queries.
// Satisfied by pipeline.Pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, result events.ClassificationResult) error
	RecentAlerts(channelID string, limit int) []*events.Alert
}

// Publisher fans an envelope out to a channel's observers. Satisfied by
// broker.Broker.
type Publisher interface {
	Publish(ctx context.Context, channelID string, payload []byte) int
}

// Handlers holds the dependencies for all HTTP handlers.
type Handlers struct {
	rooms     *rooms.Registry
	ingestor  Ingestor
	publisher Publisher
}

// NewHandlers creates the handler set.
func NewHandlers(registry *rooms.Registry, ingestor Ingestor, publisher Publisher) *Handlers {
	return &Handlers{
		rooms:     registry,
		ingestor:  ingestor,
		publisher: publisher,
	}
}

// CreateRoomRequest is the body for POST /api/v1/rooms.
type CreateRoomRequest struct {
	Name string `json:"name"`
}

// CreateRoomResponse is the response for room creation.
type CreateRoomResponse struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
}

// CreateRoom handles POST /api/v1/rooms.
func (h *Handlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// An empty body is fine: the room gets a generated name.
		req = CreateRoomRequest{}
	}

	room := h.rooms.Create(req.Name)
	slog.Info("Room created", "room_id", room.ID, "name", room.Name)

	respondJSON(w, http.StatusCreated, CreateRoomResponse{RoomID: room.ID, Name: room.Name})
}

// RoomInfoResponse is the response for a room lookup.
type RoomInfoResponse struct {
	RoomID       string `json:"room_id"`
	Name         string `json:"name"`
	Participants int    `json:"participants"`
}

// GetRoom handles GET /api/v1/rooms?room_id=.
func (h *Handlers) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		respondError(w, http.StatusBadRequest, "room_id parameter is required")
		return
	}

	room, err := h.rooms.Get(roomID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Room not found")
		return
	}

	respondJSON(w, http.StatusOK, RoomInfoResponse{
		RoomID:       room.ID,
		Name:         room.Name,
		Participants: h.rooms.ParticipantCount(roomID),
	})
}

// JoinRoomRequest is the body for POST /api/v1/rooms/join.
type JoinRoomRequest struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// JoinRoomResponse is the response for a successful join.
type JoinRoomResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	IsHost    bool      `json:"is_host"`
}

// JoinRoom handles POST /api/v1/rooms/join. The first joiner becomes the
// host. Observers of the room's channel receive a participants_update.
func (h *Handlers) JoinRoom(w http.ResponseWriter, r *http.Request) {
	var req JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	token, isHost, err := h.rooms.Join(req.RoomID, req.UserID, req.Username)
	if err != nil {
		if errors.Is(err, rooms.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Room not found")
		} else {
			respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	slog.Info("User joined room",
		"room_id", req.RoomID,
		"user_id", req.UserID,
		"is_host", isHost,
	)

	h.broadcast(r.Context(), req.RoomID, events.Envelope{
		Type:  events.TypeParticipantsUpdate,
		Count: h.rooms.ParticipantCount(req.RoomID),
	})

	respondJSON(w, http.StatusOK, JoinRoomResponse{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
		IsHost:    isHost,
	})
}

// StartRequest is the body for POST /api/v1/behavior/start.
type StartRequest struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// StartBehavior handles POST /api/v1/behavior/start. Only the host may start
// monitoring for a session.
func (h *Handlers) StartBehavior(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if !h.rooms.Exists(req.ChannelID) {
		respondError(w, http.StatusNotFound, "Room not found")
		return
	}
	if !h.rooms.IsHost(req.ChannelID, req.UserID) {
		respondError(w, http.StatusForbidden, "Only the host can start behavior monitoring")
		return
	}

	h.broadcast(r.Context(), req.ChannelID, events.Envelope{
		Type:    events.TypeInfo,
		Message: "behavior monitoring started",
	})

	respondJSON(w, http.StatusOK, map[string]string{"status": "behavior monitoring started"})
}

// IngestResult handles POST /api/v1/behavior/ingest: one classification
// result pushed by the frame classifier. Transient input errors yield a
// non-fatal status and mutate no state.
func (h *Handlers) IngestResult(w http.ResponseWriter, r *http.Request) {
	var result events.ClassificationResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if !h.rooms.Exists(result.ChannelID) {
		respondError(w, http.StatusNotFound, "Room not found")
		return
	}

	if err := h.ingestor.Ingest(r.Context(), result); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// RecentAlertsResponse is the response for a recent-alert query.
type RecentAlertsResponse struct {
	ChannelID string          `json:"channel_id"`
	Alerts    []*events.Alert `json:"alerts"`
}

// RecentAlerts handles GET /api/v1/alerts/recent?channel_id=&limit=.
func (h *Handlers) RecentAlerts(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel_id")
	if channelID == "" {
		respondError(w, http.StatusBadRequest, "channel_id parameter is required")
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	alerts := h.ingestor.RecentAlerts(channelID, limit)
	if alerts == nil {
		alerts = []*events.Alert{}
	}

	respondJSON(w, http.StatusOK, RecentAlertsResponse{ChannelID: channelID, Alerts: alerts})
}

// broadcast publishes an envelope to the channel, logging failures at the
// smallest scope.
func (h *Handlers) broadcast(ctx context.Context, channelID string, env events.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		slog.Error("Failed to marshal broadcast envelope", "channel", channelID, "error", err)
		return
	}
	h.publisher.Publish(ctx, channelID, payload)
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
