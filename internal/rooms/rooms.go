// Package rooms provides the in-memory room/session registry: room creation,
// join/host assignment, session token issuance, and participant lookups.
// State lives for the life of the process; closing a room tears its entry
// down explicitly.
package rooms

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TokenTTL is how long an issued session token remains valid.
const TokenTTL = 24 * time.Hour

// ErrNotFound is returned for lookups against unknown rooms.
var ErrNotFound = fmt.Errorf("room not found")

// Participant is one joined user within a room.
type Participant struct {
	UserID   string
	Username string
	JoinedAt time.Time
	IsHost   bool
}

// Token is an opaque session credential issued on join.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Room is one live session.
type Room struct {
	ID        string
	Name      string
	CreatedAt time.Time

	mu           sync.Mutex
	hostID       string
	participants map[string]Participant
}

// Registry owns all rooms, keyed by room ID.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
}

// Create registers a new room and returns it. Room IDs are short for easy
// sharing; uniqueness against live rooms is re-checked on collision.
func (r *Registry) Create(name string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := shortID()
	for _, exists := r.rooms[id]; exists; _, exists = r.rooms[id] {
		id = shortID()
	}

	if name == "" {
		name = "Room " + id
	}

	room := &Room{
		ID:           id,
		Name:         name,
		CreatedAt:    r.now().UTC(),
		participants: make(map[string]Participant),
	}
	r.rooms[id] = room
	return room
}

// Get returns the room for id, or ErrNotFound.
func (r *Registry) Get(id string) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return room, nil
}

// Exists reports whether a room with id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[id]
	return ok
}

// Join adds a user to the room and issues a session token. The first joiner
// becomes the host. Re-joining refreshes the participant entry and issues a
// fresh token.
func (r *Registry) Join(roomID, userID, username string) (Token, bool, error) {
	room, err := r.Get(roomID)
	if err != nil {
		return Token{}, false, err
	}
	if userID == "" {
		return Token{}, false, fmt.Errorf("user id is required")
	}
	if username == "" {
		username = "User " + userID
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	isHost := len(room.participants) == 0
	if isHost {
		room.hostID = userID
	} else if room.hostID == userID {
		isHost = true
	}

	now := r.now().UTC()
	room.participants[userID] = Participant{
		UserID:   userID,
		Username: username,
		JoinedAt: now,
		IsHost:   isHost,
	}

	token := Token{
		Value:     uuid.NewString(),
		ExpiresAt: now.Add(TokenTTL),
	}
	return token, isHost, nil
}

// Leave removes a user from the room. Idempotent.
func (r *Registry) Leave(roomID, userID string) {
	room, err := r.Get(roomID)
	if err != nil {
		return
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	delete(room.participants, userID)
}

// IsHost reports whether userID is the host of roomID.
func (r *Registry) IsHost(roomID, userID string) bool {
	room, err := r.Get(roomID)
	if err != nil {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.hostID != "" && room.hostID == userID
}

// ParticipantCount returns the number of joined users, or zero for unknown
// rooms.
func (r *Registry) ParticipantCount(roomID string) int {
	room, err := r.Get(roomID)
	if err != nil {
		return 0
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return len(room.participants)
}

// Close tears down a room's entry. Idempotent.
func (r *Registry) Close(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}

// shortID returns the first segment of a UUID, short enough to share by hand.
func shortID() string {
	return uuid.NewString()[:8]
}
