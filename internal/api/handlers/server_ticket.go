package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"telya.io/werkstatt/internal/domain"
	apperrors "telya.io/werkstatt/internal/pkg/errors"
	"telya.io/werkstatt/internal/pkg/logger"
)

type createTicketRequest struct {
	ProblemDescription string           `json:"problem_description" binding:"required"`
	KvaRequired        bool             `json:"kva_required"`
	IsB2B              bool             `json:"is_b2b"`
	EstimatedPrice     *decimal.Decimal `json:"estimated_price"`
	Device             struct {
		Brand  string `json:"brand" binding:"required"`
		Model  string `json:"model" binding:"required"`
		Type   string `json:"type"`
		Serial string `json:"serial"`
		IMEI   string `json:"imei"`
	} `json:"device"`
	LocationID string `json:"location_id"`
}

// CreateTicket handles POST /api/v1/tickets (intake). Generates the ticket
// number and the immutable tracking token.
func (s *Server) CreateTicket(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "problem description and device brand/model are required"))
		return
	}

	token, err := generateTrackingToken()
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not create ticket", http.StatusInternalServerError))
		return
	}

	now := s.now().UTC()
	ticket := &domain.Ticket{
		ID:                 GenerateID(),
		Number:             generateTicketNumber(now.Year()),
		Status:             domain.TicketAngenommen,
		TrackingToken:      token,
		ProblemDescription: strings.TrimSpace(req.ProblemDescription),
		KvaRequired:        req.KvaRequired,
		IsB2B:              req.IsB2B,
		EstimatedPrice:     req.EstimatedPrice,
		Device: domain.Device{
			ID:     GenerateID(),
			Brand:  req.Device.Brand,
			Model:  req.Device.Model,
			Type:   req.Device.Type,
			Serial: req.Device.Serial,
			IMEI:   req.Device.IMEI,
		},
		Location:  domain.Location{ID: req.LocationID},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateTicket(c.Request.Context(), ticket); err != nil {
		logger.Error("ticket intake failed", zap.Error(err))
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not create ticket", http.StatusInternalServerError))
		return
	}

	logger.Info("ticket created",
		zap.String("ticket_number", ticket.Number),
		zap.Bool("is_b2b", ticket.IsB2B),
	)

	// The tracking token is returned exactly once, at intake. It is printed
	// on the customer's receipt and never shown again.
	c.JSON(http.StatusCreated, gin.H{
		"ticket":         ticket,
		"tracking_token": token,
	})
}

// ListTickets handles GET /api/v1/tickets.
func (s *Server) ListTickets(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 50, 200)
	offset := parseIntQuery(c, "offset", 0, 1<<30)

	var status *domain.TicketStatus
	if raw := c.Query("status"); raw != "" {
		st := domain.TicketStatus(strings.ToUpper(raw))
		if !st.Valid() {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "unknown status filter"))
			return
		}
		status = &st
	}

	tickets, err := s.store.ListTickets(c.Request.Context(), status, limit, offset)
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not list tickets", http.StatusInternalServerError))
		return
	}
	if tickets == nil {
		tickets = []*domain.Ticket{}
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

// GetTicket handles GET /api/v1/tickets/:id. Staff view, unmasked.
func (s *Server) GetTicket(c *gin.Context) {
	ticket, err := s.store.TicketByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = c.Error(apperrors.NotFound(apperrors.CodeTicketNotFound, "ticket not found"))
			return
		}
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not load ticket", http.StatusInternalServerError))
		return
	}

	est, err := s.store.CurrentEstimate(c.Request.Context(), ticket.ID)
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not load estimate", http.StatusInternalServerError))
		return
	}
	history, err := s.store.StatusHistory(c.Request.Context(), ticket.ID)
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not load history", http.StatusInternalServerError))
		return
	}
	messages, err := s.store.MessagesByTicket(c.Request.Context(), ticket.ID)
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not load messages", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ticket":         ticket,
		"kva":            est,
		"status_history": history,
		"messages":       messages,
	})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

// UpdateTicketStatus handles PUT /api/v1/tickets/:id/status.
func (s *Server) UpdateTicketStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "status is required"))
		return
	}

	status := domain.TicketStatus(strings.ToUpper(req.Status))
	if !status.Valid() {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "unknown status"))
		return
	}

	err := s.store.UpdateTicketStatus(c.Request.Context(), c.Param("id"), status, req.Note)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = c.Error(apperrors.NotFound(apperrors.CodeTicketNotFound, "ticket not found"))
			return
		}
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not update status", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "status": status})
}

// generateTrackingToken creates the opaque per-ticket secret: 32 random
// bytes, hex encoded.
func generateTrackingToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate tracking token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// generateTicketNumber builds a human-readable ticket number like
// RT-2024-3F7A2C. Uniqueness is enforced by the tickets.number constraint.
func generateTicketNumber(year int) string {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	return fmt.Sprintf("RT-%d-%s", year, strings.ToUpper(hex.EncodeToString(b)))
}

func parseIntQuery(c *gin.Context, name string, def, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
