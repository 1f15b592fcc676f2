package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/questmap/backend/internal/engine"
	"github.com/questmap/backend/internal/middleware"
	"github.com/questmap/backend/internal/models"
	"github.com/questmap/backend/internal/realtime"
	"github.com/questmap/backend/internal/store"
)

type AdminHandler struct {
	engine *engine.Engine
	store  *store.Store
	hub    *realtime.Hub
}

func NewAdminHandler(e *engine.Engine, s *store.Store, hub *realtime.Hub) *AdminHandler {
	return &AdminHandler{engine: e, store: s, hub: hub}
}

// RequireAdmin guards the admin route group. Role comes from the verified
// token; the store record is the authority for engine-level checks.
func (h *AdminHandler) RequireAdmin(c *gin.Context) {
	if !isAdminRole(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
		c.Abort()
		return
	}
	c.Next()
}

func (h *AdminHandler) GetTransactions(c *gin.Context) {
	status := c.Query("status")
	var out []models.Transaction
	for _, tx := range h.store.ListTransactions() {
		if status == "" || tx.Status == status {
			out = append(out, tx)
		}
	}
	if out == nil {
		out = []models.Transaction{}
	}
	c.JSON(http.StatusOK, out)
}

// DecideTransaction settles a transaction awaiting verification.
func (h *AdminHandler) DecideTransaction(c *gin.Context) {
	var input struct {
		Outcome string `json:"outcome" binding:"required"`
		Reason  string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := h.engine.Decide(c.Param("id"), middleware.UserID(c), input.Outcome, input.Reason)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (h *AdminHandler) VerifyMarker(c *gin.Context) {
	var input struct {
		Verified *bool `json:"verified" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.engine.VerifyMarker(c.Param("id"), middleware.UserID(c), *input.Verified)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *AdminHandler) GetReports(c *gin.Context) {
	reports := h.store.ListReports()
	if reports == nil {
		reports = []models.Report{}
	}
	c.JSON(http.StatusOK, reports)
}

func (h *AdminHandler) GetUsers(c *gin.Context) {
	users := h.store.ListUsers()
	if users == nil {
		users = []models.User{}
	}
	c.JSON(http.StatusOK, users)
}

// GetStats aggregates the dashboard numbers from the live store.
func (h *AdminHandler) GetStats(c *gin.Context) {
	totalUsers, totalQuests, totalMarkers, _ := h.store.Counts()

	var pending int
	var totalRevenue int64
	for _, tx := range h.store.ListTransactions() {
		switch tx.Status {
		case models.TxPendingPayment, models.TxAwaitingVerification:
			pending++
		case models.TxCompleted:
			totalRevenue += tx.AdminFee
		}
	}

	var verifiedMarkers int
	for _, m := range h.store.ListMarkers() {
		if m.Verification.AdminVerified {
			verifiedMarkers++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"totalUsers":          totalUsers,
		"totalQuests":         totalQuests,
		"totalMarkers":        totalMarkers,
		"verifiedMarkers":     verifiedMarkers,
		"pendingTransactions": pending,
		"totalRevenue":        totalRevenue,
		"onlineUsers":         h.hub.OnlineCount(),
	})
}

// GetPublicStats is the unauthenticated aggregate: headline counts only, no
// revenue or moderation numbers.
func (h *AdminHandler) GetPublicStats(c *gin.Context) {
	totalUsers, totalQuests, totalMarkers, _ := h.store.Counts()
	c.JSON(http.StatusOK, gin.H{
		"totalUsers":   totalUsers,
		"totalQuests":  totalQuests,
		"totalMarkers": totalMarkers,
		"onlineUsers":  h.hub.OnlineCount(),
	})
}

func (h *AdminHandler) CreateCategory(c *gin.Context) {
	var input struct {
		ID   string `json:"id" binding:"required"`
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.store.PutCategory(models.Category{ID: input.ID, Name: input.Name})
	c.JSON(http.StatusCreated, gin.H{"id": input.ID, "name": input.Name})
}

// Export returns the full data document for offline inspection.
func (h *AdminHandler) Export(c *gin.Context) {
	doc := h.store.Export(middleware.UserID(c))
	c.JSON(http.StatusOK, doc)
}
