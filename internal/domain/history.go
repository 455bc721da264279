package domain

import (
	"strings"
	"time"
)

// CustomerNotePrefix marks a StatusHistory note as a customer-visible message.
// The convention doubles as the fallback path for customer messages when the
// message table insert fails.
const CustomerNotePrefix = "KUNDE:"

// StatusHistoryEntry is one append-only ticket status transition.
type StatusHistoryEntry struct {
	ID        string       `json:"id"`
	TicketID  string       `json:"ticket_id"`
	OldStatus TicketStatus `json:"old_status"`
	NewStatus TicketStatus `json:"new_status"`
	Note      string       `json:"note,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// CustomerVisible reports whether the entry may be shown on the public
// tracking page. Internal operational notes are dropped; entries without a
// note, customer messages and anything mentioning the KVA process pass.
func (e StatusHistoryEntry) CustomerVisible() bool {
	if e.Note == "" {
		return true
	}
	if strings.HasPrefix(e.Note, CustomerNotePrefix) {
		return true
	}
	return strings.Contains(e.Note, "KVA")
}

// MessageSender identifies who wrote a ticket message.
type MessageSender string

const (
	SenderCustomer MessageSender = "CUSTOMER"
	SenderStaff    MessageSender = "STAFF"
)

// TicketMessage is a free-text message attached to a ticket.
type TicketMessage struct {
	ID        string        `json:"id"`
	TicketID  string        `json:"ticket_id"`
	Sender    MessageSender `json:"sender"`
	Body      string        `json:"body"`
	CreatedAt time.Time     `json:"created_at"`
}

// StaffRole is a staff user's operational role.
type StaffRole string

const (
	RoleWerkstatt StaffRole = "werkstatt"
	RoleAnnahme   StaffRole = "annahme"
	RoleAdmin     StaffRole = "admin"
	RoleBuero     StaffRole = "buero"
)

// OperationalRoles are the roles that receive customer-event notifications.
var OperationalRoles = []StaffRole{RoleWerkstatt, RoleAnnahme, RoleAdmin}

// StaffUser is an internal user of the staff API.
type StaffUser struct {
	ID           string      `json:"id"`
	Username     string      `json:"username"`
	DisplayName  string      `json:"display_name"`
	PasswordHash string      `json:"-"`
	Roles        []StaffRole `json:"roles"`
	Active       bool        `json:"active"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Notification is one staff inbox row: one per (event, recipient).
type Notification struct {
	ID           string     `json:"id"`
	RecipientID  string     `json:"recipient_id"`
	Type         string     `json:"type"`
	Title        string     `json:"title"`
	Message      string     `json:"message"`
	ResourceType string     `json:"resource_type"`
	ResourceID   string     `json:"resource_id"`
	Read         bool       `json:"read"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
