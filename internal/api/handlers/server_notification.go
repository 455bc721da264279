package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"telya.io/werkstatt/internal/api/middleware"
	"telya.io/werkstatt/internal/domain"
	apperrors "telya.io/werkstatt/internal/pkg/errors"
	"telya.io/werkstatt/internal/pkg/logger"
)

// ListNotifications handles GET /api/v1/notifications.
func (s *Server) ListNotifications(c *gin.Context) {
	userID := middleware.GetUserID(c.Request.Context())
	if userID == "" {
		_ = c.Error(apperrors.Unauthorized(apperrors.CodeTokenInvalid, "not authenticated"))
		return
	}

	unreadOnly := c.Query("unread_only") == "true"
	limit := parseIntQuery(c, "limit", 50, 200)

	notifications, err := s.store.NotificationsByRecipient(c.Request.Context(), userID, unreadOnly, limit)
	if err != nil {
		logger.Error("failed to list notifications", zap.Error(err))
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not load notifications", http.StatusInternalServerError))
		return
	}
	if notifications == nil {
		notifications = []domain.Notification{}
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// GetUnreadCount handles GET /api/v1/notifications/unread-count.
func (s *Server) GetUnreadCount(c *gin.Context) {
	userID := middleware.GetUserID(c.Request.Context())
	if userID == "" {
		_ = c.Error(apperrors.Unauthorized(apperrors.CodeTokenInvalid, "not authenticated"))
		return
	}

	count, err := s.store.UnreadNotificationCount(c.Request.Context(), userID)
	if err != nil {
		logger.Error("failed to count unread notifications", zap.Error(err))
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not count notifications", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkNotificationRead handles POST /api/v1/notifications/:id/read.
func (s *Server) MarkNotificationRead(c *gin.Context) {
	userID := middleware.GetUserID(c.Request.Context())
	if userID == "" {
		_ = c.Error(apperrors.Unauthorized(apperrors.CodeTokenInvalid, "not authenticated"))
		return
	}

	marked, err := s.store.MarkNotificationRead(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		logger.Error("failed to mark notification read", zap.Error(err))
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not mark notification", http.StatusInternalServerError))
		return
	}
	// Already-read rows are not an error; idempotent from the client's view.
	_ = marked

	c.Status(http.StatusNoContent)
}

// MarkAllNotificationsRead handles POST /api/v1/notifications/read-all.
func (s *Server) MarkAllNotificationsRead(c *gin.Context) {
	userID := middleware.GetUserID(c.Request.Context())
	if userID == "" {
		_ = c.Error(apperrors.Unauthorized(apperrors.CodeTokenInvalid, "not authenticated"))
		return
	}

	if _, err := s.store.MarkAllNotificationsRead(c.Request.Context(), userID); err != nil {
		logger.Error("failed to mark all notifications read", zap.Error(err))
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not mark notifications", http.StatusInternalServerError))
		return
	}

	c.Status(http.StatusNoContent)
}
