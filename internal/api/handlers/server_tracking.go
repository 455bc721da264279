package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"telya.io/werkstatt/internal/domain"
	apperrors "telya.io/werkstatt/internal/pkg/errors"
	"telya.io/werkstatt/internal/pkg/logger"
)

// trackingRequest is the body of the public tracking endpoint. One action
// per request; the action decides which extra fields are read.
type trackingRequest struct {
	Action         string `json:"action"`
	TicketNumber   string `json:"ticket_number"`
	TrackingToken  string `json:"tracking_token"`
	KvaApproved    *bool  `json:"kva_approved"`
	DisposalOption string `json:"disposal_option"`
	Message        string `json:"message"`
}

const (
	actionLookup      = "lookup"
	actionKvaDecision = "kva_decision"
	actionSendMessage = "send_message"
)

// Track handles POST on the public tracking endpoint. Unauthenticated; every
// request carries the ticket number and the tracking token. Errors use the
// `{"error": ...}` shape, not the staff API envelope.
func (s *Server) Track(c *gin.Context) {
	// Rate limit before any other processing, keyed by client address.
	if !s.limiter.Allow(c.ClientIP()) {
		retryAfter := int(s.limiter.RetryAfter().Seconds())
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		s.trackingError(c, apperrors.ErrRateLimited())
		return
	}

	var req trackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.trackingError(c, apperrors.BadRequest(apperrors.CodeInvalidRequest, "invalid request body"))
		return
	}

	switch req.Action {
	case actionLookup, actionKvaDecision, actionSendMessage:
	default:
		s.trackingError(c, apperrors.BadRequest(apperrors.CodeUnknownAction, "unknown action"))
		return
	}

	ticket, err := s.verifier.Verify(c.Request.Context(), req.TicketNumber, req.TrackingToken)
	if err != nil {
		s.trackingError(c, err)
		return
	}

	switch req.Action {
	case actionLookup:
		view, err := s.tracker.Lookup(c.Request.Context(), ticket)
		if err != nil {
			s.trackingError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)

	case actionKvaDecision:
		if req.KvaApproved == nil {
			s.trackingError(c, apperrors.BadRequest(apperrors.CodeInvalidRequest, "kva_approved is required"))
			return
		}
		result, err := s.tracker.DecideKva(c.Request.Context(), ticket,
			*req.KvaApproved, domain.DisposalOption(req.DisposalOption))
		if err != nil {
			s.trackingError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"kva_approved":    result.Approved,
			"kva_approved_at": result.ApprovedAt,
		})

	case actionSendMessage:
		if err := s.tracker.SendMessage(c.Request.Context(), ticket, req.Message); err != nil {
			s.trackingError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// TrackPreflight answers the CORS preflight with an empty 200. The CORS
// middleware has already attached the permissive headers.
func (s *Server) TrackPreflight(c *gin.Context) {
	c.Status(http.StatusOK)
}

// trackingError renders the public error shape. Messages are already
// customer-safe; anything unexpected collapses to a generic 500.
func (s *Server) trackingError(c *gin.Context, err error) {
	if appErr, ok := apperrors.IsAppError(err); ok {
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message})
		return
	}
	logger.Error("tracking request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "the request could not be processed"})
}
