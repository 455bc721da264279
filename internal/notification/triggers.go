package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"telya.io/werkstatt/internal/domain"
	"telya.io/werkstatt/internal/pkg/logger"
)

// StaffDirectory resolves which staff users receive a fan-out.
type StaffDirectory interface {
	ActiveStaffIDsByRoles(ctx context.Context, roles []domain.StaffRole) ([]string, error)
}

// Triggers maps customer events on the tracking endpoint to staff inbox
// fan-outs. Every active user holding an operational role gets exactly one
// inbox row per event.
type Triggers struct {
	sender Sender
	staff  StaffDirectory
}

// NewTriggers creates the notification trigger service.
func NewTriggers(sender Sender, staff StaffDirectory) *Triggers {
	return &Triggers{sender: sender, staff: staff}
}

// CustomerDecidedKva fires after a customer decided the cost estimate.
func (t *Triggers) CustomerDecidedKva(ctx context.Context, ticket *domain.Ticket, approved bool) {
	var title, message string
	if approved {
		title = fmt.Sprintf("KVA freigegeben: %s", ticket.Number)
		message = fmt.Sprintf("Der Kunde hat den Kostenvoranschlag für Auftrag %s freigegeben. Die Reparatur kann gestartet werden.", ticket.Number)
	} else {
		title = fmt.Sprintf("KVA abgelehnt: %s", ticket.Number)
		message = fmt.Sprintf("Der Kunde hat den Kostenvoranschlag für Auftrag %s abgelehnt.", ticket.Number)
		if ticket.DisposalOption != nil && *ticket.DisposalOption == domain.DisposalKostenlosEntsorgen {
			message += " Kostenlose Entsorgung gewünscht."
		}
	}

	t.fanOut(ctx, ticket, Params{
		Type:         TypeKvaDecided,
		Title:        title,
		Message:      message,
		ResourceType: "ticket",
		ResourceID:   ticket.ID,
	})
}

// CustomerSentMessage fires after a customer sent a message via the tracking
// page. preview is already truncated by the caller.
func (t *Triggers) CustomerSentMessage(ctx context.Context, ticket *domain.Ticket, preview string) {
	t.fanOut(ctx, ticket, Params{
		Type:         TypeCustomerMessage,
		Title:        fmt.Sprintf("Kundennachricht zu %s", ticket.Number),
		Message:      preview,
		ResourceType: "ticket",
		ResourceID:   ticket.ID,
	})
}

// fanOut delivers one event to all operational staff. Failures are logged,
// never surfaced; the customer request has already succeeded at this point.
func (t *Triggers) fanOut(ctx context.Context, ticket *domain.Ticket, params Params) {
	recipientIDs, err := t.staff.ActiveStaffIDsByRoles(ctx, domain.OperationalRoles)
	if err != nil {
		logger.Error("failed to resolve notification recipients",
			zap.String("ticket_number", ticket.Number),
			zap.String("type", params.Type),
			zap.Error(err),
		)
		return
	}
	if len(recipientIDs) == 0 {
		logger.Warn("no operational staff found for notification",
			zap.String("ticket_number", ticket.Number),
			zap.String("type", params.Type),
		)
		return
	}

	if err := t.sender.SendToMany(ctx, recipientIDs, params); err != nil {
		logger.Error("notification fan-out failed",
			zap.String("ticket_number", ticket.Number),
			zap.String("type", params.Type),
			zap.Int("recipients", len(recipientIDs)),
			zap.Error(err),
		)
	}
}
