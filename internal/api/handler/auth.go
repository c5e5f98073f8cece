package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/serviceledger/internal/identity"
)

// AuthHandler exchanges the shared operator secret for an operator token.
type AuthHandler struct {
	tokens     *identity.TokenIssuer
	secretHash string
	logger     *zap.Logger
}

// NewAuthHandler creates an AuthHandler. secretHash is a bcrypt hash from
// identity.HashSecret.
func NewAuthHandler(tokens *identity.TokenIssuer, secretHash string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, secretHash: secretHash, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.IssueToken)
}

type tokenRequest struct {
	Operator string `json:"operator" binding:"required"`
	Secret   string `json:"secret" binding:"required"`
}

// IssueToken handles POST /auth/token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	if h.tokens == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "authentication is disabled on this ledger"})
		return
	}

	var req tokenRequest
	err := c.ShouldBindJSON(&req)
	operator := strings.TrimSpace(req.Operator)
	if err != nil || operator == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator and secret are required"})
		return
	}

	if err := identity.CheckSecret(h.secretHash, req.Secret); err != nil {
		h.logger.Warn("operator token refused",
			zap.String("operator", operator),
			zap.String("client_ip", c.ClientIP()),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.tokens.Issue(operator)
	if err != nil {
		h.logger.Error("issue operator token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	h.logger.Info("operator token issued", zap.String("operator", operator))
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(h.tokens.TTL().Seconds()),
	})
}
