package tracking

import (
	"context"

	"telya.io/werkstatt/internal/domain"
	"telya.io/werkstatt/internal/pkg/worker"
)

// Store is the persistence contract the tracking service consumes. The
// repository package implements it against PostgreSQL; tests implement it
// in memory.
type Store interface {
	// TicketByNumber loads a ticket with device and location by its
	// normalized number. Returns apperrors.ErrNotFound when absent.
	TicketByNumber(ctx context.Context, number string) (*domain.Ticket, error)

	// CurrentEstimate returns the ticket's is_current estimate, or nil when
	// the ticket has none.
	CurrentEstimate(ctx context.Context, ticketID string) (*domain.KvaEstimate, error)

	// StatusHistory returns all status transitions, oldest first.
	StatusHistory(ctx context.Context, ticketID string) ([]domain.StatusHistoryEntry, error)

	// ApplyKvaDecision applies the full decision write set atomically:
	// estimate update, KVA history append, ticket update and status history
	// append commit together or not at all.
	ApplyKvaDecision(ctx context.Context, d domain.KvaDecision) error

	// InsertMessage stores one customer message.
	InsertMessage(ctx context.Context, m *domain.TicketMessage) error

	// AppendStatusNote appends a status-history row without changing the
	// ticket status. Fallback path for customer messages.
	AppendStatusNote(ctx context.Context, ticketID string, status domain.TicketStatus, note string) error
}

// Notifier fans a customer event out to the staff. Implementations are
// best-effort: they log failures and never return them into the request.
type Notifier interface {
	CustomerDecidedKva(ctx context.Context, ticket *domain.Ticket, approved bool)
	CustomerSentMessage(ctx context.Context, ticket *domain.Ticket, preview string)
}

// Dispatcher submits detached tasks that must survive the request context.
// Satisfied by worker.Pools.
type Dispatcher interface {
	SubmitDetached(poolName string, task worker.Task) error
}
