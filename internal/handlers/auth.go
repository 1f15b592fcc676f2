package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/questmap/backend/internal/auth"
	"github.com/questmap/backend/internal/middleware"
	"github.com/questmap/backend/internal/store"
)

type AuthHandler struct {
	auth  *auth.Service
	store *store.Store
}

func NewAuthHandler(a *auth.Service, s *store.Store) *AuthHandler {
	return &AuthHandler{auth: a, store: s}
}

// RequestCode starts a passwordless login. In development, without a
// configured transport, the code is echoed back in the response.
func (h *AuthHandler) RequestCode(c *gin.Context) {
	var input struct {
		Identity string `json:"identity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	devCode, err := h.auth.RequestCode(input.Identity)
	if err != nil {
		abortWith(c, err)
		return
	}

	resp := gin.H{"message": "Code sent"}
	if devCode != "" {
		resp["devCode"] = devCode
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) VerifyCode(c *gin.Context) {
	var input struct {
		Identity string `json:"identity" binding:"required"`
		Code     string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, user, err := h.auth.VerifyCode(input.Identity, input.Code)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  user,
	})
}

// Me returns the caller's own record.
func (h *AuthHandler) Me(c *gin.Context) {
	u, err := h.store.GetUser(middleware.UserID(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
