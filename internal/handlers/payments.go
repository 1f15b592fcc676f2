package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/questmap/backend/internal/engine"
	"github.com/questmap/backend/internal/middleware"
	"github.com/questmap/backend/internal/models"
	"github.com/questmap/backend/internal/store"
)

type PaymentHandler struct {
	engine *engine.Engine
	store  *store.Store
}

func NewPaymentHandler(e *engine.Engine, s *store.Store) *PaymentHandler {
	return &PaymentHandler{engine: e, store: s}
}

func (h *PaymentHandler) CreateTransaction(c *gin.Context) {
	var input struct {
		QuestID     string `json:"questId"`
		Amount      int64  `json:"amount" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := h.engine.CreateTransaction(input.QuestID, middleware.UserID(c), input.Amount, input.Description)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	tx, err := h.store.GetTransaction(c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	userID := middleware.UserID(c)
	if tx.PayerID != userID && !isAdminRole(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}
	c.JSON(http.StatusOK, tx)
}

// GetMyTransactions lists the caller's own transactions.
func (h *PaymentHandler) GetMyTransactions(c *gin.Context) {
	userID := middleware.UserID(c)
	var mine []models.Transaction
	for _, tx := range h.store.ListTransactions() {
		if tx.PayerID == userID {
			mine = append(mine, tx)
		}
	}
	if mine == nil {
		mine = []models.Transaction{}
	}
	c.JSON(http.StatusOK, mine)
}

func (h *PaymentHandler) SubmitProof(c *gin.Context) {
	var input struct {
		ProofRef string `json:"proofRef" binding:"required"`
		Notes    string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := h.engine.SubmitProof(c.Param("id"), middleware.UserID(c), input.ProofRef, input.Notes)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (h *PaymentHandler) CancelTransaction(c *gin.Context) {
	tx, err := h.engine.Cancel(c.Param("id"), middleware.UserID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func isAdminRole(c *gin.Context) bool {
	role := c.GetString(middleware.ContextRole)
	return role == models.RoleAdmin || role == models.RoleOwner
}
