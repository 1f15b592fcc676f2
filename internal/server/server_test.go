package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/questmap/backend/internal/auth"
	"github.com/questmap/backend/internal/models"
)

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("SNAPSHOT_PATH", filepath.Join(t.TempDir(), "snapshot.json"))
	t.Setenv("DB_HOST", "")
	t.Setenv("TWILIO_ACCOUNT_SID", "")

	s, err := New(zap.NewNop().Sugar())
	require.NoError(t, err)
	s.hub.Start()
	t.Cleanup(func() {
		s.hub.Stop()
	})
	return s, s.RegisterRoutes()
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// login runs the passwordless flow and returns a bearer token plus user id.
func login(t *testing.T, router *gin.Engine, email string) (token, userID string) {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/auth/request-code", "", gin.H{"identity": email})
	require.Equal(t, http.StatusOK, w.Code)
	var reqResp struct {
		DevCode string `json:"devCode"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reqResp))
	require.NotEmpty(t, reqResp.DevCode, "expected in-band code without a configured sender")

	w = doJSON(t, router, http.MethodPost, "/api/auth/verify", "", gin.H{"identity": email, "code": reqResp.DevCode})
	require.Equal(t, http.StatusOK, w.Code)
	var verifyResp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verifyResp))
	return verifyResp.Token, verifyResp.User.ID
}

// promote makes the user an admin and issues a token carrying the new role.
func promote(t *testing.T, s *Server, userID string) string {
	t.Helper()
	u, err := s.store.UpdateUser(userID, func(u *models.User) error {
		u.Role = models.RoleAdmin
		return nil
	})
	require.NoError(t, err)
	token, err := auth.SignToken(u)
	require.NoError(t, err)
	return token
}

func TestHealthEndpoint(t *testing.T) {
	_, router := newTestServer(t)
	w := doJSON(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/quests", "", gin.H{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/quests", "garbage", gin.H{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestQuestLifecycleOverHTTP(t *testing.T) {
	_, router := newTestServer(t)
	token, _ := login(t, router, "owner@example.com")

	w := doJSON(t, router, http.MethodPost, "/api/quests", token, gin.H{
		"title":       "Paint the fence",
		"description": "two coats",
		"category":    "chores",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var quest models.Quest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &quest))
	assert.Equal(t, models.QuestOpen, quest.Status)

	// Public read, no token.
	w = doJSON(t, router, http.MethodGet, "/api/quests", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var quests []models.Quest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &quests))
	assert.Len(t, quests, 1)

	w = doJSON(t, router, http.MethodPatch, "/api/quests/"+quest.ID+"/status", token, gin.H{"status": "taken"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/quests/"+quest.ID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMarkerVotingOverHTTP(t *testing.T) {
	_, router := newTestServer(t)
	ownerToken, _ := login(t, router, "owner@example.com")
	voterToken, _ := login(t, router, "voter@example.com")

	w := doJSON(t, router, http.MethodPost, "/api/markers", ownerToken, gin.H{
		"title":     "Blocked bike lane",
		"latitude":  51.5,
		"longitude": -0.12,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var marker models.Marker
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &marker))

	w = doJSON(t, router, http.MethodPost, "/api/markers/"+marker.ID+"/vote", voterToken, gin.H{"voteType": "confirmed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"credibility":100`)

	// Same voter again: conflict.
	w = doJSON(t, router, http.MethodPost, "/api/markers/"+marker.ID+"/vote", voterToken, gin.H{"voteType": "fake"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/markers/"+marker.ID+"/vote", ownerToken, gin.H{"voteType": "banana"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEscrowFlowOverHTTP(t *testing.T) {
	s, router := newTestServer(t)
	payerToken, _ := login(t, router, "payer@example.com")
	_, adminID := login(t, router, "admin@example.com")
	adminToken := promote(t, s, adminID)

	// Below minimum.
	w := doJSON(t, router, http.MethodPost, "/api/transactions", payerToken, gin.H{"amount": 500})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/transactions", payerToken, gin.H{
		"amount":      100000,
		"description": "quest payment",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var tx models.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))
	assert.Equal(t, int64(5000), tx.AdminFee)

	// Admin cannot decide before proof is submitted.
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/admin/transactions/%s/decide", tx.ID), adminToken,
		gin.H{"outcome": "approve"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/transactions/"+tx.ID+"/proof", payerToken,
		gin.H{"proofRef": "uploads/receipt.jpg"})
	require.Equal(t, http.StatusOK, w.Code)

	// Non-admin is rejected by the route guard.
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/admin/transactions/%s/decide", tx.ID), payerToken,
		gin.H{"outcome": "approve"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/admin/transactions/%s/decide", tx.ID), adminToken,
		gin.H{"outcome": "approve"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))
	assert.Equal(t, models.TxCompleted, tx.Status)

	// Settled transactions cannot be cancelled.
	w = doJSON(t, router, http.MethodPost, "/api/transactions/"+tx.ID+"/cancel", payerToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTransactionVisibility(t *testing.T) {
	_, router := newTestServer(t)
	payerToken, _ := login(t, router, "payer@example.com")
	otherToken, _ := login(t, router, "other@example.com")

	w := doJSON(t, router, http.MethodPost, "/api/transactions", payerToken, gin.H{"amount": 50000})
	require.Equal(t, http.StatusCreated, w.Code)
	var tx models.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))

	w = doJSON(t, router, http.MethodGet, "/api/transactions/"+tx.ID, otherToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/transactions", otherToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestAdminStatsAndExport(t *testing.T) {
	s, router := newTestServer(t)
	ownerToken, _ := login(t, router, "owner@example.com")
	_, adminID := login(t, router, "admin@example.com")
	adminToken := promote(t, s, adminID)

	w := doJSON(t, router, http.MethodPost, "/api/markers", ownerToken, gin.H{
		"title": "Little free library", "latitude": 1.0, "longitude": 1.0,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/admin/stats", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 2, stats["totalUsers"])
	assert.EqualValues(t, 1, stats["totalMarkers"])

	w = doJSON(t, router, http.MethodGet, "/api/admin/export", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "owner@example.com")

	// Admin surface is closed to regular users.
	w = doJSON(t, router, http.MethodGet, "/api/admin/stats", ownerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
