// Package realtime tracks connected sessions and fans out entity-change
// events. The hub exclusively owns its session table; it holds only entity
// ids/copies from the store, never pointers into it. Delivery is
// at-most-once per connected session and best-effort: a session that misses
// an event converges on its next full snapshot.
package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/questmap/backend/internal/store"
)

// Audience selects which sessions receive a broadcast.
type Audience int

const (
	AudienceAll Audience = iota
	AudienceAdmins
)

// Client-observable event types. Each carries the full changed entity, never
// a diff, so clients can replace local state wholesale.
const (
	EventInitialData        = "initialData"
	EventUserCount          = "userCount"
	EventAdminNotification  = "adminNotification"
	EventQuestAdded         = "questAdded"
	EventQuestUpdated       = "questUpdated"
	EventQuestDeleted       = "questDeleted"
	EventMarkerAdded        = "markerAdded"
	EventMarkerUpdated      = "markerUpdated"
	EventMarkerDeleted      = "markerDeleted"
	EventTransactionUpdated = "transactionUpdated"
)

// Event is one realtime message to a session.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Session is one live connection. Destroyed on disconnect, never persisted.
type Session struct {
	ID          string
	UserID      string
	IsAdmin     bool
	ConnectedAt time.Time
	ch          chan Event
}

// Events is the receive side of the session's delivery channel. It is closed
// when the hub stops.
func (s *Session) Events() <-chan Event {
	return s.ch
}

// Presence is user-level (not session-level) online state, last-writer-wins.
type Presence struct {
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

type envelope struct {
	event    Event
	audience Audience
}

// Hub is the injected, explicitly-owned broadcast component. Construct one
// per process (or per test), call Start, and Stop on shutdown.
type Hub struct {
	store *store.Store
	log   *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[string]*Session
	presence map[string]Presence

	dispatch chan envelope
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
}

const sessionBuffer = 32

func NewHub(st *store.Store, log *zap.SugaredLogger) *Hub {
	return &Hub{
		store:    st,
		log:      log,
		sessions: map[string]*Session{},
		presence: map[string]Presence{},
		dispatch: make(chan envelope, 256),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the single dispatch goroutine. Events enqueued for the same
// entity are delivered to all sessions in enqueue (= commit) order.
func (h *Hub) Start() {
	h.started = true
	go h.run()
}

// Stop drains the dispatcher and closes every session channel.
func (h *Hub) Stop() {
	if !h.started {
		return
	}
	close(h.stopCh)
	<-h.doneCh

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		close(s.ch)
		delete(h.sessions, id)
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	for {
		select {
		case env := <-h.dispatch:
			h.fanOut(env)
		case <-h.stopCh:
			// Drain whatever was enqueued before the stop signal.
			for {
				select {
				case env := <-h.dispatch:
					h.fanOut(env)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) fanOut(env envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		if env.audience == AudienceAdmins && !s.IsAdmin {
			continue
		}
		select {
		case s.ch <- env.event:
		default:
			// Slow consumer: drop rather than block the dispatch path.
			h.log.Debugw("event dropped for slow session", "session", s.ID, "event", env.event.Type)
		}
	}
}

// Connect registers a session, queues its initial snapshot and announces the
// new online count. userID may be empty for unauthenticated viewers.
func (h *Hub) Connect(userID string, isAdmin bool) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		IsAdmin:     isAdmin,
		ConnectedAt: time.Now().UTC(),
		ch:          make(chan Event, sessionBuffer),
	}

	initial := h.initialData(isAdmin)

	h.mu.Lock()
	h.sessions[s.ID] = s
	if userID != "" {
		h.presence[userID] = Presence{Online: true, LastSeen: time.Now().UTC()}
	}
	// Queued directly while holding the lock, so the snapshot precedes any
	// broadcast fanned out after this connect.
	s.ch <- Event{Type: EventInitialData, Payload: initial}
	count := h.onlineCountLocked()
	h.mu.Unlock()

	h.log.Infow("session connected", "session", s.ID, "user", userID, "admin", isAdmin)
	h.Broadcast(EventUserCount, map[string]int{"count": count})
	return s
}

// Disconnect removes the session and re-announces the online count. Presence
// clearing is last-writer-wins and best-effort; the transport may detect the
// same disconnect more than once.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
		if s.UserID != "" && !h.userStillConnectedLocked(s.UserID) {
			h.presence[s.UserID] = Presence{Online: false, LastSeen: time.Now().UTC()}
		}
	}
	count := h.onlineCountLocked()
	h.mu.Unlock()

	if !ok {
		return
	}
	h.log.Infow("session disconnected", "session", sessionID, "user", s.UserID)
	h.Broadcast(EventUserCount, map[string]int{"count": count})
}

func (h *Hub) userStillConnectedLocked(userID string) bool {
	for _, s := range h.sessions {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

// onlineCountLocked counts distinct authenticated users plus anonymous
// sessions.
func (h *Hub) onlineCountLocked() int {
	users := map[string]struct{}{}
	anon := 0
	for _, s := range h.sessions {
		if s.UserID == "" {
			anon++
			continue
		}
		users[s.UserID] = struct{}{}
	}
	return len(users) + anon
}

// OnlineCount returns the current online count.
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineCountLocked()
}

// PresenceOf returns the last known presence for a user.
func (h *Hub) PresenceOf(userID string) (Presence, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.presence[userID]
	return p, ok
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast fans the event out to every connected session. Callers must only
// invoke this after the corresponding store write has committed.
func (h *Hub) Broadcast(eventType string, payload any) {
	h.enqueue(envelope{event: Event{Type: eventType, Payload: payload}, audience: AudienceAll})
}

// BroadcastAdmins fans the event out to admin sessions only.
func (h *Hub) BroadcastAdmins(eventType string, payload any) {
	h.enqueue(envelope{event: Event{Type: eventType, Payload: payload}, audience: AudienceAdmins})
}

func (h *Hub) enqueue(env envelope) {
	select {
	case h.dispatch <- env:
	default:
		h.log.Warnw("dispatch queue full, event dropped", "event", env.event.Type)
	}
}

func (h *Hub) initialData(isAdmin bool) map[string]any {
	data := map[string]any{
		"quests":      h.store.ListQuests(),
		"markers":     h.store.ListMarkers(),
		"categories":  h.store.ListCategories(),
		"lastUpdated": h.store.LastUpdated(),
	}
	if isAdmin {
		data["transactions"] = h.store.ListTransactions()
		data["reports"] = h.store.ListReports()
	}
	return data
}
