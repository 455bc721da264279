// Package handlers implements the HTTP handlers of the Werkstatt backend.
//
// Route registration lives in internal/app/router.go; handlers do not
// register their own routes.
package handlers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"telya.io/werkstatt/internal/api/middleware"
	"telya.io/werkstatt/internal/domain"
	"telya.io/werkstatt/internal/repository"
	"telya.io/werkstatt/internal/tracking"
)

// Store is the persistence surface the staff handlers consume. Implemented
// by *repository.Repository; handler tests supply fakes.
type Store interface {
	TicketByNumber(ctx context.Context, number string) (*domain.Ticket, error)
	TicketByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListTickets(ctx context.Context, status *domain.TicketStatus, limit, offset int) ([]*domain.Ticket, error)
	CreateTicket(ctx context.Context, t *domain.Ticket) error
	UpdateTicketStatus(ctx context.Context, ticketID string, newStatus domain.TicketStatus, note string) error

	CurrentEstimate(ctx context.Context, ticketID string) (*domain.KvaEstimate, error)
	CreateEstimate(ctx context.Context, est *domain.KvaEstimate) error
	ReleaseEndcustomerPrice(ctx context.Context, estimateID string, price decimal.Decimal) error

	StatusHistory(ctx context.Context, ticketID string) ([]domain.StatusHistoryEntry, error)
	MessagesByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error)

	StaffByUsername(ctx context.Context, username string) (*domain.StaffUser, error)
	StaffByID(ctx context.Context, id string) (*domain.StaffUser, error)

	NotificationsByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]domain.Notification, error)
	UnreadNotificationCount(ctx context.Context, recipientID string) (int, error)
	MarkNotificationRead(ctx context.Context, id, recipientID string) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error)
}

// Compile-time check: the repository satisfies the handler contract.
var _ Store = (*repository.Repository)(nil)

// Pinger is what the readiness probe needs from the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server implements all API handlers.
type Server struct {
	store    Store
	jwtCfg   middleware.JWTConfig
	verifier *tracking.Verifier
	tracker  *tracking.Service
	limiter  *tracking.Limiter
	pinger   Pinger

	now func() time.Time
}

// ServerDeps holds all dependencies for creating a Server. Manual DI, no
// wire.
type ServerDeps struct {
	Store    Store
	JWTCfg   middleware.JWTConfig
	Verifier *tracking.Verifier
	Tracker  *tracking.Service
	Limiter  *tracking.Limiter
	Pinger   Pinger
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		store:    deps.Store,
		jwtCfg:   deps.JWTCfg,
		verifier: deps.Verifier,
		tracker:  deps.Tracker,
		limiter:  deps.Limiter,
		pinger:   deps.Pinger,
		now:      time.Now,
	}
}
