// Package domain provides domain models for the Werkstatt backend.
//
// Repository methods return domain types, never driver-level rows; the
// tracking service and the handlers only ever see these structs.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TicketStatus represents the workshop state of a repair ticket.
type TicketStatus string

const (
	TicketAngenommen    TicketStatus = "ANGENOMMEN"       // device received at intake
	TicketInDiagnose    TicketStatus = "IN_DIAGNOSE"      // fault analysis running
	TicketKvaOffen      TicketStatus = "KVA_OFFEN"        // waiting for the customer's estimate decision
	TicketInReparatur   TicketStatus = "IN_REPARATUR"     // repair in progress
	TicketAbgeschlossen TicketStatus = "REPARATUR_ABGESCHLOSSEN"
	TicketAbholbereit   TicketStatus = "ABHOLBEREIT"
	TicketAbgeholt      TicketStatus = "ABGEHOLT"
	TicketStorniert     TicketStatus = "STORNIERT"
)

// Valid reports whether s is a known workshop state.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketAngenommen, TicketInDiagnose, TicketKvaOffen, TicketInReparatur,
		TicketAbgeschlossen, TicketAbholbereit, TicketAbgeholt, TicketStorniert:
		return true
	}
	return false
}

// DisposalOption is the customer's choice on KVA rejection.
type DisposalOption string

const (
	DisposalZuruecksenden      DisposalOption = "ZURUECKSENDEN"
	DisposalKostenlosEntsorgen DisposalOption = "KOSTENLOS_ENTSORGEN"
)

// Valid reports whether d is a known disposal option.
func (d DisposalOption) Valid() bool {
	return d == DisposalZuruecksenden || d == DisposalKostenlosEntsorgen
}

// Device is the repaired device as attached to a ticket.
type Device struct {
	ID     string `json:"id"`
	Brand  string `json:"brand"`
	Model  string `json:"model"`
	Type   string `json:"type"`
	Serial string `json:"serial,omitempty"`
	IMEI   string `json:"imei,omitempty"`
}

// Location is the shop location handling a ticket.
type Location struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Ticket is a repair ticket. The tracking token is generated once at intake
// and never changes; KvaApproved moves from nil to a value exactly once.
type Ticket struct {
	ID                 string           `json:"id"`
	Number             string           `json:"number"`
	Status             TicketStatus     `json:"status"`
	TrackingToken      string           `json:"-"`
	ProblemDescription string           `json:"problem_description"`
	KvaRequired        bool             `json:"kva_required"`
	KvaApproved        *bool            `json:"kva_approved"`
	KvaApprovedAt      *time.Time       `json:"kva_approved_at"`
	DisposalOption     *DisposalOption  `json:"disposal_option,omitempty"`
	IsB2B              bool             `json:"is_b2b"`
	EstimatedPrice     *decimal.Decimal `json:"estimated_price,omitempty"`
	EndcustomerPrice   *decimal.Decimal `json:"endcustomer_price,omitempty"`
	Device             Device           `json:"device"`
	Location           Location         `json:"location"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// NormalizeTicketNumber canonicalizes a caller-supplied ticket number.
func NormalizeTicketNumber(number string) string {
	return strings.ToUpper(strings.TrimSpace(number))
}

// NormalizeTrackingToken canonicalizes a caller-supplied tracking token.
func NormalizeTrackingToken(token string) string {
	return strings.TrimSpace(token)
}
