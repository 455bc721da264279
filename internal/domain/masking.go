package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// The tracking projection is what an unauthenticated customer gets to see.
// Two flags drive every price decision:
//
//   - is_b2b = false (direct customer): internal prices are visible, the
//     reseller end-customer price does not exist for them.
//   - is_b2b = true (reseller ticket): internal and wholesale prices are
//     always hidden from the end customer, and the reseller's retail price
//     is shown only after the reseller released it.
//
// The projection is a pure function so the rule is testable without a store.

// TrackingDevice is the customer-safe device projection (no serial, no IMEI).
type TrackingDevice struct {
	Brand string `json:"brand"`
	Model string `json:"model"`
	Type  string `json:"type"`
}

// TrackingLocation is the customer-safe location projection (name only).
type TrackingLocation struct {
	Name string `json:"name"`
}

// TrackingStatusEntry is one customer-visible status transition.
type TrackingStatusEntry struct {
	OldStatus TicketStatus `json:"old_status"`
	NewStatus TicketStatus `json:"new_status"`
	Note      string       `json:"note,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// TrackingEstimate is the masked view of the current KVA estimate.
type TrackingEstimate struct {
	Version          int              `json:"version"`
	KvaType          string           `json:"kva_type"`
	Status           EstimateStatus   `json:"status"`
	RepairCost       *decimal.Decimal `json:"repair_cost"`
	PartsCost        *decimal.Decimal `json:"parts_cost"`
	CostMin          *decimal.Decimal `json:"cost_min"`
	CostMax          *decimal.Decimal `json:"cost_max"`
	FeeAmount        *decimal.Decimal `json:"fee_amount"`
	EndcustomerPrice *decimal.Decimal `json:"endcustomer_price"`
	ValidUntil       *time.Time       `json:"valid_until,omitempty"`
	DecidedAt        *time.Time       `json:"decided_at,omitempty"`
}

// TrackingView is the full masked lookup response.
type TrackingView struct {
	TicketNumber       string                `json:"ticket_number"`
	Status             TicketStatus          `json:"status"`
	ProblemDescription string                `json:"problem_description"`
	Device             TrackingDevice        `json:"device"`
	Location           TrackingLocation      `json:"location"`
	KvaRequired        bool                  `json:"kva_required"`
	KvaApproved        *bool                 `json:"kva_approved"`
	KvaApprovedAt      *time.Time            `json:"kva_approved_at"`
	EstimatedPrice     *decimal.Decimal      `json:"estimated_price"`
	EndcustomerPrice   *decimal.Decimal      `json:"endcustomer_price"`
	Kva                *TrackingEstimate     `json:"kva,omitempty"`
	StatusHistory      []TrackingStatusEntry `json:"status_history"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// BuildTrackingView projects a ticket, its current estimate and its status
// history into the customer-safe view. est may be nil.
func BuildTrackingView(t *Ticket, est *KvaEstimate, history []StatusHistoryEntry) TrackingView {
	view := TrackingView{
		TicketNumber:       t.Number,
		Status:             t.Status,
		ProblemDescription: t.ProblemDescription,
		Device: TrackingDevice{
			Brand: t.Device.Brand,
			Model: t.Device.Model,
			Type:  t.Device.Type,
		},
		Location:      TrackingLocation{Name: t.Location.Name},
		KvaRequired:   t.KvaRequired,
		KvaApproved:   t.KvaApproved,
		KvaApprovedAt: t.KvaApprovedAt,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}

	released := est != nil && est.EndcustomerPriceReleased
	if t.IsB2B {
		if released {
			view.EndcustomerPrice = t.EndcustomerPrice
		}
	} else {
		view.EstimatedPrice = t.EstimatedPrice
	}

	if est != nil {
		view.Kva = maskEstimate(est, t.IsB2B)
	}

	for _, e := range history {
		if !e.CustomerVisible() {
			continue
		}
		view.StatusHistory = append(view.StatusHistory, TrackingStatusEntry{
			OldStatus: e.OldStatus,
			NewStatus: e.NewStatus,
			Note:      e.Note,
			CreatedAt: e.CreatedAt,
		})
	}

	return view
}

// maskEstimate applies the field-level price masking to one estimate.
func maskEstimate(est *KvaEstimate, isB2B bool) *TrackingEstimate {
	view := &TrackingEstimate{
		Version:    est.Version,
		KvaType:    est.KvaType,
		Status:     est.Status,
		ValidUntil: est.ValidUntil,
		DecidedAt:  est.DecidedAt,
	}

	if !isB2B {
		view.RepairCost = est.RepairCost
		view.PartsCost = est.PartsCost
		view.CostMin = est.CostMin
		view.CostMax = est.CostMax
		if !est.FeeWaived {
			view.FeeAmount = est.FeeAmount
		}
	} else if est.EndcustomerPriceReleased {
		view.EndcustomerPrice = est.EndcustomerPrice
	}

	return view
}
