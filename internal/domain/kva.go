package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EstimateStatus is the lifecycle state of a cost estimate (KVA).
// OFFEN is the only non-terminal state; a decided estimate never moves again.
type EstimateStatus string

const (
	EstimateOffen       EstimateStatus = "OFFEN"
	EstimateFreigegeben EstimateStatus = "FREIGEGEBEN"
	EstimateAbgelehnt   EstimateStatus = "ABGELEHNT"
	EstimateEntsorgen   EstimateStatus = "ENTSORGEN"
)

// Terminal reports whether the estimate has already been decided.
func (s EstimateStatus) Terminal() bool {
	switch s {
	case EstimateFreigegeben, EstimateAbgelehnt, EstimateEntsorgen:
		return true
	}
	return false
}

// DecideEstimateStatus computes the terminal status for a customer decision.
// Approval always wins; a rejection with free disposal selected becomes
// ENTSORGEN, any other rejection becomes ABGELEHNT.
func DecideEstimateStatus(approved bool, disposal DisposalOption) EstimateStatus {
	if approved {
		return EstimateFreigegeben
	}
	if disposal == DisposalKostenlosEntsorgen {
		return EstimateEntsorgen
	}
	return EstimateAbgelehnt
}

// KvaEstimate is one version of a ticket's cost estimate. At most one row per
// ticket has IsCurrent set.
type KvaEstimate struct {
	ID       string         `json:"id"`
	TicketID string         `json:"ticket_id"`
	Version  int            `json:"version"`
	KvaType  string         `json:"kva_type"`
	Status   EstimateStatus `json:"status"`

	RepairCost *decimal.Decimal `json:"repair_cost,omitempty"`
	PartsCost  *decimal.Decimal `json:"parts_cost,omitempty"`
	CostMin    *decimal.Decimal `json:"cost_min,omitempty"`
	CostMax    *decimal.Decimal `json:"cost_max,omitempty"`
	FeeAmount  *decimal.Decimal `json:"fee_amount,omitempty"`
	FeeWaived  bool             `json:"fee_waived"`

	EndcustomerPrice         *decimal.Decimal `json:"endcustomer_price,omitempty"`
	EndcustomerPriceReleased bool             `json:"endcustomer_price_released"`

	ValidUntil *time.Time `json:"valid_until,omitempty"`
	IsCurrent  bool       `json:"is_current"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// KvaHistoryEntry is one append-only decision event on an estimate.
type KvaHistoryEntry struct {
	ID         string         `json:"id"`
	EstimateID string         `json:"estimate_id"`
	Action     string         `json:"action"`
	Status     EstimateStatus `json:"status"`
	Note       string         `json:"note,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// KvaDecision is the write set a customer decision produces. It is applied
// atomically by the store: estimate update, history append, ticket update
// and status-history append commit together or not at all.
type KvaDecision struct {
	TicketID       string
	EstimateID     string
	Approved       bool
	NewStatus      EstimateStatus
	DisposalOption *DisposalOption
	NewTicketState *TicketStatus // set only when approval starts the repair
	DecidedAt      time.Time
	HistoryNote    string
	StatusNote     string
}
