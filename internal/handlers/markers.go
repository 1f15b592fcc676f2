package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/questmap/backend/internal/engine"
	"github.com/questmap/backend/internal/middleware"
	"github.com/questmap/backend/internal/models"
	"github.com/questmap/backend/internal/store"
)

type MarkerHandler struct {
	engine *engine.Engine
	store  *store.Store
}

func NewMarkerHandler(e *engine.Engine, s *store.Store) *MarkerHandler {
	return &MarkerHandler{engine: e, store: s}
}

func (h *MarkerHandler) GetMarkers(c *gin.Context) {
	markers := h.store.ListMarkers()
	if markers == nil {
		markers = []models.Marker{}
	}
	c.JSON(http.StatusOK, markers)
}

func (h *MarkerHandler) GetMarker(c *gin.Context) {
	m, err := h.store.GetMarker(c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *MarkerHandler) CreateMarker(c *gin.Context) {
	var input struct {
		Title       string   `json:"title" binding:"required"`
		Description string   `json:"description"`
		Category    string   `json:"category"`
		Latitude    float64  `json:"latitude" binding:"min=-90,max=90"`
		Longitude   float64  `json:"longitude" binding:"min=-180,max=180"`
		Media       []string `json:"media"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.engine.AddMarker(middleware.UserID(c), engine.MarkerInput{
		Title:       input.Title,
		Description: input.Description,
		Category:    input.Category,
		Latitude:    input.Latitude,
		Longitude:   input.Longitude,
		Media:       input.Media,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// Vote records a community vote. One vote per user per marker, ever.
func (h *MarkerHandler) Vote(c *gin.Context) {
	var input struct {
		VoteType string `json:"voteType" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.engine.CastVote(middleware.UserID(c), c.Param("id"), input.VoteType)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          m.ID,
		"community":   m.Verification.Community,
		"credibility": m.Verification.Credibility,
	})
}

func (h *MarkerHandler) Report(c *gin.Context) {
	var input struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.engine.ReportMarker(c.Param("id"), middleware.UserID(c), input.Reason)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *MarkerHandler) DeleteMarker(c *gin.Context) {
	if err := h.engine.DeleteMarker(c.Param("id"), middleware.UserID(c)); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Marker deleted successfully"})
}
