// Package hub tracks which users hold a live push connection and delivers
// events to them.
package hub

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mahaj/wedding-chat/pkg/model"
)

var (
	// ErrBufferFull is returned by a Conn whose outbound queue is full.
	ErrBufferFull = errors.New("send buffer full")
	// ErrClosed is returned by a Conn that has already shut down.
	ErrClosed = errors.New("connection closed")

	ErrNoUser       = errors.New("connection has no authenticated user")
	ErrOwnedByOther = errors.New("connection already registered to another user")
)

// Conn is one live transport handle. Send must not block; a handle that
// cannot accept a frame returns an error.
type Conn interface {
	ID() string
	Send(frame []byte) error
}

type session struct {
	conns map[string]Conn
}

// Hub is the session table. A user is Online while at least one of their
// handles is registered.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session // user_id -> live handles
	owners   map[string]string   // conn id -> user_id
	lastSeen map[string]time.Time

	hookMu       sync.RWMutex
	onConnect    []func(userID string)
	onDisconnect []func(userID string)
}

func New() *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		owners:   make(map[string]string),
		lastSeen: make(map[string]time.Time),
	}
}

// OnConnect registers fn to run when a user goes from Offline to Online.
func (h *Hub) OnConnect(fn func(userID string)) {
	h.hookMu.Lock()
	h.onConnect = append(h.onConnect, fn)
	h.hookMu.Unlock()
}

// OnDisconnect registers fn to run when a user's last handle goes away.
func (h *Hub) OnDisconnect(fn func(userID string)) {
	h.hookMu.Lock()
	h.onDisconnect = append(h.onDisconnect, fn)
	h.hookMu.Unlock()
}

// Register binds c to userID. Registering the same handle twice for the same
// user is a no-op.
func (h *Hub) Register(userID string, c Conn) error {
	if userID == "" {
		return ErrNoUser
	}

	h.mu.Lock()
	if owner, ok := h.owners[c.ID()]; ok {
		h.mu.Unlock()
		if owner != userID {
			return ErrOwnedByOther
		}
		return nil
	}

	s, ok := h.sessions[userID]
	if !ok {
		s = &session{conns: make(map[string]Conn)}
		h.sessions[userID] = s
	}
	s.conns[c.ID()] = c
	h.owners[c.ID()] = userID
	h.lastSeen[userID] = time.Now()
	cameOnline := len(s.conns) == 1
	total := len(s.conns)
	h.mu.Unlock()

	log.Printf("Connection registered: %s (user %s, %d open)", c.ID(), userID, total)
	if cameOnline {
		h.fire(h.connectHooks(), userID)
	}
	return nil
}

// Unregister removes c. Unknown or already removed handles are ignored.
func (h *Hub) Unregister(c Conn) {
	userID, wentOffline, ok := h.remove(c.ID())
	if !ok {
		return
	}
	log.Printf("Connection unregistered: %s (user %s)", c.ID(), userID)
	if wentOffline {
		h.fire(h.disconnectHooks(), userID)
	}
}

func (h *Hub) remove(connID string) (userID string, wentOffline, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID, ok = h.owners[connID]
	if !ok {
		return "", false, false
	}
	delete(h.owners, connID)
	h.lastSeen[userID] = time.Now()

	s := h.sessions[userID]
	delete(s.conns, connID)
	if len(s.conns) == 0 {
		delete(h.sessions, userID)
		wentOffline = true
	}
	return userID, wentOffline, true
}

// EmitToUser writes {event, payload} to every live handle of userID and
// reports whether at least one accepted it. false is the normal offline
// case, not an error. Handles that fail are evicted.
func (h *Hub) EmitToUser(userID, event string, payload interface{}) bool {
	conns := h.snapshot(userID)
	if len(conns) == 0 {
		return false
	}

	frame, err := json.Marshal(model.Event{Event: event, Payload: payload})
	if err != nil {
		log.Printf("Failed to marshal %s event for %s: %v", event, userID, err)
		return false
	}

	delivered := false
	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			log.Printf("Delivery miss on connection %s (user %s): %v", c.ID(), userID, err)
			h.Unregister(c)
			continue
		}
		delivered = true
	}

	if delivered {
		h.mu.Lock()
		h.lastSeen[userID] = time.Now()
		h.mu.Unlock()
	}
	return delivered
}

func (h *Hub) snapshot(userID string) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[userID]
	if !ok {
		return nil
	}
	conns := make([]Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[userID]
	return ok
}

// Sessions returns the number of live handles held by userID.
func (h *Hub) Sessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s, ok := h.sessions[userID]; ok {
		return len(s.conns)
	}
	return 0
}

// LastSeen returns the last time userID connected, disconnected or received
// a push on this node.
func (h *Hub) LastSeen(userID string) (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.lastSeen[userID]
	return t, ok
}

// OnlineUsers returns the ids of all users with a live handle.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.sessions))
	for u := range h.sessions {
		users = append(users, u)
	}
	return users
}

// ConnectionCount returns the number of registered handles.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners)
}

func (h *Hub) connectHooks() []func(string) {
	h.hookMu.RLock()
	defer h.hookMu.RUnlock()
	return h.onConnect
}

func (h *Hub) disconnectHooks() []func(string) {
	h.hookMu.RLock()
	defer h.hookMu.RUnlock()
	return h.onDisconnect
}

func (h *Hub) fire(hooks []func(string), userID string) {
	for _, fn := range hooks {
		fn(userID)
	}
}
