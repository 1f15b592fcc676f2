package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/questmap/backend/internal/engine"
	"github.com/questmap/backend/internal/middleware"
	"github.com/questmap/backend/internal/models"
	"github.com/questmap/backend/internal/store"
)

type QuestHandler struct {
	engine *engine.Engine
	store  *store.Store
}

func NewQuestHandler(e *engine.Engine, s *store.Store) *QuestHandler {
	return &QuestHandler{engine: e, store: s}
}

func (h *QuestHandler) GetQuests(c *gin.Context) {
	quests := h.store.ListQuests()
	// If no quests, return empty array not null
	if quests == nil {
		quests = []models.Quest{}
	}
	c.JSON(http.StatusOK, quests)
}

func (h *QuestHandler) GetCategories(c *gin.Context) {
	categories := h.store.ListCategories()
	if categories == nil {
		categories = []models.Category{}
	}
	c.JSON(http.StatusOK, categories)
}

func (h *QuestHandler) GetQuest(c *gin.Context) {
	q, err := h.store.GetQuest(c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *QuestHandler) CreateQuest(c *gin.Context) {
	var input struct {
		Title       string `json:"title" binding:"required"`
		Description string `json:"description"`
		Category    string `json:"category"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q, err := h.engine.AddQuest(middleware.UserID(c), engine.QuestInput{
		Title:       input.Title,
		Description: input.Description,
		Category:    input.Category,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

func (h *QuestHandler) UpdateQuestStatus(c *gin.Context) {
	var input struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q, err := h.engine.UpdateQuestStatus(c.Param("id"), middleware.UserID(c), input.Status)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *QuestHandler) DeleteQuest(c *gin.Context) {
	if err := h.engine.DeleteQuest(c.Param("id"), middleware.UserID(c)); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Quest deleted successfully"})
}
