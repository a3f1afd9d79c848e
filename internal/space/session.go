// Package space implements the realtime state-synchronization subsystem of
// the Explore client: the session and room model, the remote player registry,
// tile edit sync, presence reporting, and the room transition orchestration
// that ties them to the socket connection.
package space

import "sync"

// Session holds the authenticated identity and current room of this client.
// Exactly one Session exists per running client; it is produced by the
// external auth flow and shared by every component, so all methods are safe
// for concurrent use.
type Session struct {
	mu sync.RWMutex

	userID      string
	displayName string
	token       string
	roomID      string

	// defaultRoomID is the well-known public room used for explicit leaves
	// and membership-rejection recovery.
	defaultRoomID string

	// editor grants the tile edit capability for the current room.
	editor bool
}

// NewSession creates a Session carrying the given bearer token.
//
// Precondition: defaultRoomID must be non-empty.
// Postcondition: The session starts in the default room with no user identity.
func NewSession(token, defaultRoomID string) *Session {
	return &Session{
		token:         token,
		roomID:        defaultRoomID,
		defaultRoomID: defaultRoomID,
	}
}

// Token returns the bearer token, or "" if the session is unauthenticated.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// UserID returns the local user id established by the joined event.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// SetIdentity records the local user id and display name.
func (s *Session) SetIdentity(userID, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	if displayName != "" {
		s.displayName = displayName
	}
}

// DisplayName returns the local user's display name.
func (s *Session) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayName
}

// IsSelf reports whether userID identifies the local user. Events about the
// local user must never mutate the remote registry.
func (s *Session) IsSelf(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID != "" && s.userID == userID
}

// RoomID returns the currently targeted room.
func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// SetRoom records a room transition.
func (s *Session) SetRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
}

// DefaultRoomID returns the fallback public room id.
func (s *Session) DefaultRoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultRoomID
}

// InDefaultRoom reports whether the session currently targets the default room.
func (s *Session) InDefaultRoom() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID == s.defaultRoomID
}

// Editor reports whether the session may edit tiles in the current room.
func (s *Session) Editor() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.editor
}

// SetEditor grants or revokes the tile edit capability.
func (s *Session) SetEditor(editor bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editor = editor
}
