package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"telya.io/werkstatt/internal/domain"
	apperrors "telya.io/werkstatt/internal/pkg/errors"
	"telya.io/werkstatt/internal/pkg/logger"
)

type createEstimateRequest struct {
	KvaType          string           `json:"kva_type"`
	RepairCost       *decimal.Decimal `json:"repair_cost"`
	PartsCost        *decimal.Decimal `json:"parts_cost"`
	CostMin          *decimal.Decimal `json:"cost_min"`
	CostMax          *decimal.Decimal `json:"cost_max"`
	FeeAmount        *decimal.Decimal `json:"fee_amount"`
	FeeWaived        bool             `json:"fee_waived"`
	EndcustomerPrice *decimal.Decimal `json:"endcustomer_price"`
}

// CreateEstimate handles POST /api/v1/tickets/:id/kva. Inserts a new
// estimate version and moves the ticket to KVA_OFFEN; the customer decides
// via the public tracking endpoint.
func (s *Server) CreateEstimate(c *gin.Context) {
	var req createEstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid estimate body"))
		return
	}

	ticket, err := s.store.TicketByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = c.Error(apperrors.NotFound(apperrors.CodeTicketNotFound, "ticket not found"))
			return
		}
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not load ticket", http.StatusInternalServerError))
		return
	}

	kvaType := req.KvaType
	if kvaType == "" {
		kvaType = "STANDARD"
	}

	est := &domain.KvaEstimate{
		ID:               GenerateID(),
		TicketID:         ticket.ID,
		KvaType:          kvaType,
		RepairCost:       req.RepairCost,
		PartsCost:        req.PartsCost,
		CostMin:          req.CostMin,
		CostMax:          req.CostMax,
		FeeAmount:        req.FeeAmount,
		FeeWaived:        req.FeeWaived,
		EndcustomerPrice: req.EndcustomerPrice,
		CreatedAt:        s.now().UTC(),
	}

	if err := s.store.CreateEstimate(c.Request.Context(), est); err != nil {
		logger.Error("estimate creation failed",
			zap.String("ticket_number", ticket.Number),
			zap.Error(err),
		)
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not create estimate", http.StatusInternalServerError))
		return
	}

	logger.Info("estimate created",
		zap.String("ticket_number", ticket.Number),
		zap.Int("version", est.Version),
	)
	c.JSON(http.StatusCreated, gin.H{"kva": est})
}

type releasePriceRequest struct {
	EndcustomerPrice decimal.Decimal `json:"endcustomer_price" binding:"required"`
}

// ReleaseEndcustomerPrice handles POST /api/v1/kva/:id/release. B2B only:
// until released, the end customer sees no price at all on the tracking page.
func (s *Server) ReleaseEndcustomerPrice(c *gin.Context) {
	var req releasePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "endcustomer_price is required"))
		return
	}
	if req.EndcustomerPrice.IsNegative() {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, "endcustomer_price must not be negative"))
		return
	}

	err := s.store.ReleaseEndcustomerPrice(c.Request.Context(), c.Param("id"), req.EndcustomerPrice)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = c.Error(apperrors.NotFound(apperrors.CodeEstimateNotFound, "estimate not found"))
			return
		}
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStoreFailure, "could not release price", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
