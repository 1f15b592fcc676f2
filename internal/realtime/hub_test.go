package realtime

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/questmap/backend/internal/models"
	"github.com/questmap/backend/internal/store"
)

func newTestHub(t *testing.T) (*Hub, *store.Store) {
	t.Helper()
	st := store.New("", zap.NewNop().Sugar())
	h := NewHub(st, zap.NewNop().Sugar())
	h.Start()
	t.Cleanup(h.Stop)
	return h, st
}

func waitForEvent(t *testing.T, s *Session, eventType string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			require.True(t, ok, "session channel closed while waiting for %s", eventType)
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestConnectDeliversInitialDataFirst(t *testing.T) {
	h, st := newTestHub(t)
	require.NoError(t, st.PutQuest(models.Quest{
		SchemaVersion: models.SchemaVersion,
		ID:            "q1",
		UserID:        "u1",
		Title:         "Water the plants",
		Status:        models.QuestOpen,
		CreatedAt:     time.Now().UTC(),
	}))

	s := h.Connect("u1", false)
	defer h.Disconnect(s.ID)

	ev := <-s.Events()
	require.Equal(t, EventInitialData, ev.Type)

	data, ok := ev.Payload.(map[string]any)
	require.True(t, ok)
	quests, ok := data["quests"].([]models.Quest)
	require.True(t, ok)
	assert.Len(t, quests, 1)

	// Non-admin snapshots never include transactions or reports.
	assert.NotContains(t, data, "transactions")
	assert.NotContains(t, data, "reports")
}

func TestAdminInitialDataIncludesAdminCollections(t *testing.T) {
	h, _ := newTestHub(t)

	s := h.Connect("admin", true)
	defer h.Disconnect(s.ID)

	ev := <-s.Events()
	require.Equal(t, EventInitialData, ev.Type)
	data := ev.Payload.(map[string]any)
	assert.Contains(t, data, "transactions")
	assert.Contains(t, data, "reports")
}

func TestBroadcastReachesAllSessions(t *testing.T) {
	h, _ := newTestHub(t)

	a := h.Connect("u1", false)
	b := h.Connect("u2", true)
	defer h.Disconnect(a.ID)
	defer h.Disconnect(b.ID)

	h.Broadcast(EventQuestAdded, map[string]string{"id": "q1"})

	waitForEvent(t, a, EventQuestAdded)
	waitForEvent(t, b, EventQuestAdded)
}

func TestAdminBroadcastSkipsRegularSessions(t *testing.T) {
	h, _ := newTestHub(t)

	user := h.Connect("u1", false)
	admin := h.Connect("a1", true)
	defer h.Disconnect(user.ID)
	defer h.Disconnect(admin.ID)

	h.BroadcastAdmins(EventAdminNotification, map[string]string{"message": "check this"})
	// Marker follows so the user session has a later event to observe.
	h.Broadcast(EventMarkerAdded, map[string]string{"id": "m1"})

	waitForEvent(t, admin, EventAdminNotification)

	// Everything the user session saw up to the later marker event must
	// exclude the admin-only notification.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-user.Events():
			assert.NotEqual(t, EventAdminNotification, ev.Type)
			if ev.Type == EventMarkerAdded {
				return
			}
		case <-deadline:
			t.Fatal("user session never saw the marker event")
		}
	}
}

func TestBroadcastOrderingPerSession(t *testing.T) {
	h, _ := newTestHub(t)

	s := h.Connect("u1", false)
	defer h.Disconnect(s.ID)

	const n = 10
	for i := 0; i < n; i++ {
		h.Broadcast(EventQuestUpdated, i)
	}

	// Events arrive in enqueue order.
	next := 0
	deadline := time.After(2 * time.Second)
	for next < n {
		select {
		case ev := <-s.Events():
			if ev.Type != EventQuestUpdated {
				continue
			}
			require.Equal(t, next, ev.Payload)
			next++
		case <-deadline:
			t.Fatalf("timed out at event %d", next)
		}
	}
}

func TestOnlineCountIsPerUserNotPerSession(t *testing.T) {
	h, _ := newTestHub(t)

	a := h.Connect("u1", false)
	b := h.Connect("u1", false) // second tab, same user
	c := h.Connect("", false)   // anonymous viewer

	assert.Equal(t, 2, h.OnlineCount())
	assert.Equal(t, 3, h.SessionCount())

	h.Disconnect(a.ID)
	assert.Equal(t, 2, h.OnlineCount()) // u1 still has a session

	h.Disconnect(b.ID)
	h.Disconnect(c.ID)
	assert.Equal(t, 0, h.OnlineCount())
}

func TestPresenceTracksLastSession(t *testing.T) {
	h, _ := newTestHub(t)

	a := h.Connect("u1", false)
	b := h.Connect("u1", false)

	p, ok := h.PresenceOf("u1")
	require.True(t, ok)
	assert.True(t, p.Online)

	// Presence survives while any session for the user remains.
	h.Disconnect(a.ID)
	p, _ = h.PresenceOf("u1")
	assert.True(t, p.Online)

	h.Disconnect(b.ID)
	p, _ = h.PresenceOf("u1")
	assert.False(t, p.Online)
	assert.False(t, p.LastSeen.IsZero())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h, _ := newTestHub(t)
	s := h.Connect("u1", false)
	h.Disconnect(s.ID)
	h.Disconnect(s.ID) // transport may report the same close twice
	assert.Equal(t, 0, h.SessionCount())
}

func TestSlowConsumerDoesNotBlockOthers(t *testing.T) {
	h, _ := newTestHub(t)

	slow := h.Connect("slow", false)
	fast := h.Connect("fast", false)
	defer h.Disconnect(slow.ID)
	defer h.Disconnect(fast.ID)

	// The fast session consumes as events arrive.
	sawSentinel := make(chan struct{})
	go func() {
		for ev := range fast.Events() {
			if ev.Type == EventQuestAdded {
				close(sawSentinel)
				return
			}
		}
	}()

	// Never read from slow; overflow its buffer and then some.
	for i := 0; i < sessionBuffer*3; i++ {
		h.Broadcast(EventMarkerUpdated, fmt.Sprintf("m%d", i))
	}
	h.Broadcast(EventQuestAdded, "sentinel")

	select {
	case <-sawSentinel:
	case <-time.After(2 * time.Second):
		t.Fatal("fast session never saw the tail event")
	}
}
