package store

import (
	"sync"

	"github.com/google/uuid"

	"arenalive-backend/internal/domain"
)

// SessionStore is the single source of truth for active call sessions
// and live rooms. The store's own lock guards only the indexes; each
// stored session carries its own mutex, so mutations to one session
// never contend with operations on another.
type SessionStore struct {
	mu sync.RWMutex

	calls map[uuid.UUID]*domain.CallSession
	rooms map[uuid.UUID]*domain.LiveRoom

	// callByUser indexes the one active call either party may hold,
	// enforcing the busy invariant atomically with insertion
	callByUser map[uuid.UUID]uuid.UUID
}

// NewSessionStore creates an empty store
func NewSessionStore() *SessionStore {
	return &SessionStore{
		calls:      make(map[uuid.UUID]*domain.CallSession),
		rooms:      make(map[uuid.UUID]*domain.LiveRoom),
		callByUser: make(map[uuid.UUID]uuid.UUID),
	}
}

// PutCallIfFree inserts the session unless either party already holds
// an active call. Returns the busy party's existing call id and false
// when insertion is refused. Check and insert are one atomic step so
// two racing invites cannot both claim the same user.
func (s *SessionStore) PutCallIfFree(sess *domain.CallSession) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.callByUser[sess.CallerID]; ok {
		return existing, false
	}
	if existing, ok := s.callByUser[sess.CalleeID]; ok {
		return existing, false
	}

	s.calls[sess.CallID] = sess
	s.callByUser[sess.CallerID] = sess.CallID
	s.callByUser[sess.CalleeID] = sess.CallID
	return sess.CallID, true
}

// GetCall returns the active session for callID
func (s *SessionStore) GetCall(callID uuid.UUID) (*domain.CallSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.calls[callID]
	return sess, ok
}

// ActiveCallOf returns the call currently holding userID, if any
func (s *SessionStore) ActiveCallOf(userID uuid.UUID) (*domain.CallSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	callID, ok := s.callByUser[userID]
	if !ok {
		return nil, false
	}
	sess, ok := s.calls[callID]
	return sess, ok
}

// RemoveCall drops the session and both party bindings
func (s *SessionStore) RemoveCall(callID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.calls[callID]
	if !ok {
		return
	}
	delete(s.calls, callID)
	if s.callByUser[sess.CallerID] == callID {
		delete(s.callByUser, sess.CallerID)
	}
	if s.callByUser[sess.CalleeID] == callID {
		delete(s.callByUser, sess.CalleeID)
	}
}

// Calls returns the active call sessions; the slice is a fresh copy,
// the sessions are shared and must be mutated under their own locks
func (s *SessionStore) Calls() []*domain.CallSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.CallSession, 0, len(s.calls))
	for _, sess := range s.calls {
		out = append(out, sess)
	}
	return out
}

// CallCount returns the number of active call sessions
func (s *SessionStore) CallCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}

// PutRoom registers a live room
func (s *SessionStore) PutRoom(room *domain.LiveRoom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.RoomID] = room
}

// GetRoom returns the active room for roomID
func (s *SessionStore) GetRoom(roomID uuid.UUID) (*domain.LiveRoom, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	return room, ok
}

// RemoveRoom drops the room from the active set
func (s *SessionStore) RemoveRoom(roomID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// Rooms returns the active rooms; the slice is a fresh copy, the rooms
// themselves are shared and must be read under their own locks
func (s *SessionStore) Rooms() []*domain.LiveRoom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.LiveRoom, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, room)
	}
	return out
}

// RoomCount returns the number of active rooms
func (s *SessionStore) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
