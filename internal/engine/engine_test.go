package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/questmap/backend/internal/models"
	"github.com/questmap/backend/internal/store"
)

// recordingHub captures broadcasts in arrival order so tests can assert on
// fan-out without a running hub.
type recordingHub struct {
	mu     sync.Mutex
	all    []recordedEvent
	admins []recordedEvent
}

type recordedEvent struct {
	eventType string
	payload   any
}

func (r *recordingHub) Broadcast(eventType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, recordedEvent{eventType, payload})
}

func (r *recordingHub) BroadcastAdmins(eventType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins = append(r.admins, recordedEvent{eventType, payload})
}

func (r *recordingHub) allEvents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.all))
	for _, ev := range r.all {
		out = append(out, ev.eventType)
	}
	return out
}

func (r *recordingHub) adminEvents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.admins))
	for _, ev := range r.admins {
		out = append(out, ev.eventType)
	}
	return out
}

// payloads returns the payloads of every broadcast with the given type, in
// arrival order.
func (r *recordingHub) payloads(eventType string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, ev := range r.all {
		if ev.eventType == eventType {
			out = append(out, ev.payload)
		}
	}
	return out
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *store.Store, *recordingHub) {
	t.Helper()
	st := store.New("", zap.NewNop().Sugar())
	hub := &recordingHub{}
	return New(st, hub, zap.NewNop().Sugar(), opts...), st, hub
}

func seedUser(t *testing.T, st *store.Store, id, role string) models.User {
	t.Helper()
	now := time.Now().UTC()
	u := models.User{
		SchemaVersion: models.SchemaVersion,
		ID:            id,
		Email:         id + "@example.com",
		Reputation:    models.DefaultReputation,
		Role:          role,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, st.PutUser(u))
	return u
}

func seedMarker(t *testing.T, st *store.Store, id, ownerID string) models.Marker {
	t.Helper()
	now := time.Now().UTC()
	m := models.Marker{
		SchemaVersion: models.SchemaVersion,
		ID:            id,
		UserID:        ownerID,
		UserEmail:     ownerID + "@example.com",
		Title:         "Pothole on Main St",
		Latitude:      40.0,
		Longitude:     -74.0,
		Verification:  models.Verification{Credibility: models.DefaultCredibility},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, st.PutMarker(m))
	return m
}

func seedQuest(t *testing.T, st *store.Store, id, ownerID string) models.Quest {
	t.Helper()
	now := time.Now().UTC()
	q := models.Quest{
		SchemaVersion: models.SchemaVersion,
		ID:            id,
		UserID:        ownerID,
		UserEmail:     ownerID + "@example.com",
		Title:         "Assemble furniture",
		Status:        models.QuestOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, st.PutQuest(q))
	return q
}
