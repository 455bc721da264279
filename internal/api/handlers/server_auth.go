package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"telya.io/werkstatt/internal/api/middleware"
	apperrors "telya.io/werkstatt/internal/pkg/errors"
	"telya.io/werkstatt/internal/pkg/logger"
)

const passwordHashCost = 12

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /api/v1/auth/login.
func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequest, "username and password are required"))
		return
	}

	user, err := s.store.StaffByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			logger.Error("staff lookup failed", zap.Error(err))
		}
		// Unknown user and wrong password are indistinguishable.
		logger.Warn("login failed: invalid credentials", zap.String("username", req.Username))
		_ = c.Error(apperrors.Unauthorized(apperrors.CodeAuthFailed, "invalid credentials"))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		logger.Warn("login failed: invalid credentials", zap.String("username", req.Username))
		_ = c.Error(apperrors.Unauthorized(apperrors.CodeAuthFailed, "invalid credentials"))
		return
	}

	roles := make([]string, len(user.Roles))
	for i, r := range user.Roles {
		roles[i] = string(r)
	}

	token, expiresAt, err := middleware.GenerateToken(s.jwtCfg, user.ID, user.Username, roles)
	if err != nil {
		logger.Error("failed to generate token", zap.Error(err))
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeAuthFailed, "token generation failed", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"user": gin.H{
			"id":           user.ID,
			"username":     user.Username,
			"display_name": user.DisplayName,
			"roles":        roles,
		},
	})
}

// GetCurrentUser handles GET /api/v1/auth/me.
func (s *Server) GetCurrentUser(c *gin.Context) {
	userID := middleware.GetUserID(c.Request.Context())
	if userID == "" {
		_ = c.Error(apperrors.Unauthorized(apperrors.CodeTokenInvalid, "not authenticated"))
		return
	}

	user, err := s.store.StaffByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = c.Error(apperrors.NotFound(apperrors.CodeAuthFailed, "user not found"))
			return
		}
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not load user", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"display_name": user.DisplayName,
		"roles":        user.Roles,
	})
}

// HashPassword hashes a password using bcrypt (used by the seed command).
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// GenerateID creates a new row ID.
func GenerateID() string {
	id, _ := uuid.NewV7()
	return id.String()
}
