package tracking

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telya.io/werkstatt/internal/domain"
	apperrors "telya.io/werkstatt/internal/pkg/errors"
	"telya.io/werkstatt/internal/pkg/logger"
)

const (
	// MaxMessageLength is the hard truncation boundary for customer messages.
	MaxMessageLength = 1000

	// previewLength bounds the message excerpt embedded in staff notifications.
	previewLength = 100
)

// DecisionResult is the customer-facing outcome of a kva_decision action.
type DecisionResult struct {
	Approved   bool      `json:"kva_approved"`
	ApprovedAt time.Time `json:"kva_approved_at"`
}

// Service dispatches the three tracking actions for an already-verified
// ticket. It owns no HTTP concerns; the handler does rate limiting, body
// parsing and verification before calling in.
type Service struct {
	store    Store
	notifier Notifier
	pools    Dispatcher
	now      func() time.Time
}

// NewService creates the tracking action service. pools may be nil, in which
// case notification fan-out runs synchronously on the request context.
func NewService(store Store, notifier Notifier, pools Dispatcher) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		pools:    pools,
		now:      time.Now,
	}
}

// Lookup builds the customer-safe masked projection for a verified ticket.
func (s *Service) Lookup(ctx context.Context, ticket *domain.Ticket) (domain.TrackingView, error) {
	est, err := s.store.CurrentEstimate(ctx, ticket.ID)
	if err != nil {
		return domain.TrackingView{}, s.storeErr(err, "load current estimate", ticket)
	}

	history, err := s.store.StatusHistory(ctx, ticket.ID)
	if err != nil {
		return domain.TrackingView{}, s.storeErr(err, "load status history", ticket)
	}

	return domain.BuildTrackingView(ticket, est, history), nil
}

// DecideKva applies the customer's estimate decision. The precondition chain
// makes the operation idempotent at the business level: after the first
// successful decision every replay is rejected, never silently reapplied.
func (s *Service) DecideKva(ctx context.Context, ticket *domain.Ticket, approved bool, disposal domain.DisposalOption) (*DecisionResult, error) {
	if disposal != "" && !disposal.Valid() {
		return nil, apperrors.BadRequest(apperrors.CodeInvalidRequest, "unknown disposal option")
	}

	est, err := s.store.CurrentEstimate(ctx, ticket.ID)
	if err != nil {
		return nil, s.storeErr(err, "load current estimate", ticket)
	}

	// Precondition chain, checked in order. Each case is a distinct error so
	// the customer (who already holds a valid token) sees why it failed.
	switch {
	case !ticket.KvaRequired && est == nil:
		return nil, apperrors.BadRequest(apperrors.CodeKvaNotRequired,
			"this ticket has no cost estimate to decide on")
	case est != nil && est.Status.Terminal():
		return nil, apperrors.BadRequest(apperrors.CodeKvaAlreadyDone,
			"the cost estimate has already been decided")
	case ticket.KvaApproved != nil && est == nil:
		// Tickets from before the versioned-estimate model: the ticket-level
		// flag is the only record, and it is already set.
		return nil, apperrors.BadRequest(apperrors.CodeKvaLegacyLocked,
			"a decision for this ticket has already been recorded")
	}

	now := s.now()
	newStatus := domain.DecideEstimateStatus(approved, disposal)

	decision := domain.KvaDecision{
		TicketID:  ticket.ID,
		Approved:  approved,
		NewStatus: newStatus,
		DecidedAt: now,
	}
	if est != nil {
		decision.EstimateID = est.ID
	}
	if !approved && disposal != "" {
		d := disposal
		decision.DisposalOption = &d
	}

	if approved {
		state := domain.TicketInReparatur
		decision.NewTicketState = &state
		decision.HistoryNote = "Kunde hat den Kostenvoranschlag freigegeben"
		decision.StatusNote = "KVA freigegeben, Reparatur wird gestartet"
	} else {
		switch newStatus {
		case domain.EstimateEntsorgen:
			decision.HistoryNote = "Kunde hat den Kostenvoranschlag abgelehnt, kostenlose Entsorgung gewünscht"
			decision.StatusNote = "KVA abgelehnt, Gerät wird kostenlos entsorgt"
		default:
			decision.HistoryNote = "Kunde hat den Kostenvoranschlag abgelehnt"
			decision.StatusNote = "KVA abgelehnt, Gerät wird zurückgesendet"
		}
	}

	if err := s.store.ApplyKvaDecision(ctx, decision); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// A concurrent decision won the transaction race. Same answer as
			// the precondition chain would have given on a replay.
			return nil, apperrors.BadRequest(apperrors.CodeKvaAlreadyDone,
				"the cost estimate has already been decided")
		}
		return nil, s.storeErr(err, "apply kva decision", ticket)
	}

	// Bring the already-loaded ticket in line with what just committed; the
	// notifier reads it.
	ticket.KvaApproved = &approved
	ticket.KvaApprovedAt = &now
	ticket.DisposalOption = decision.DisposalOption
	if decision.NewTicketState != nil {
		ticket.Status = *decision.NewTicketState
	}

	logger.Info("customer kva decision applied",
		zap.String("ticket_number", ticket.Number),
		zap.Bool("approved", approved),
		zap.String("estimate_status", string(newStatus)),
	)

	s.fanOut(ctx, func(ctx context.Context) {
		s.notifier.CustomerDecidedKva(ctx, ticket, approved)
	})

	return &DecisionResult{Approved: approved, ApprovedAt: now}, nil
}

// SendMessage stores a free-text customer message and notifies the staff.
func (s *Service) SendMessage(ctx context.Context, ticket *domain.Ticket, message string) error {
	body := strings.TrimSpace(message)
	if body == "" {
		return apperrors.BadRequest(apperrors.CodeMessageEmpty, "message must not be empty")
	}
	body = truncateRunes(body, MaxMessageLength)

	msg := &domain.TicketMessage{
		ID:        uuid.NewString(),
		TicketID:  ticket.ID,
		Sender:    domain.SenderCustomer,
		Body:      body,
		CreatedAt: s.now(),
	}

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		// Do not lose the message: fall back to the status-history note
		// convention the tracking page already renders.
		logger.Warn("message insert failed, falling back to status history",
			zap.String("ticket_number", ticket.Number),
			zap.Error(err),
		)
		note := domain.CustomerNotePrefix + " " + body
		if err := s.store.AppendStatusNote(ctx, ticket.ID, ticket.Status, note); err != nil {
			return s.storeErr(err, "store customer message", ticket)
		}
	}

	preview := truncateRunes(body, previewLength)
	if preview != body {
		preview += "..."
	}

	s.fanOut(ctx, func(ctx context.Context) {
		s.notifier.CustomerSentMessage(ctx, ticket, preview)
	})

	return nil
}

// fanOut runs the notification trigger detached from the request so a client
// disconnect cannot cancel it. Fan-out failure never reaches the customer.
func (s *Service) fanOut(ctx context.Context, task func(ctx context.Context)) {
	if s.notifier == nil {
		return
	}
	if s.pools == nil {
		task(context.WithoutCancel(ctx))
		return
	}
	if err := s.pools.SubmitDetached("notify", task); err != nil {
		logger.Error("notification fan-out could not be scheduled", zap.Error(err))
	}
}

func (s *Service) storeErr(err error, op string, ticket *domain.Ticket) *apperrors.AppError {
	logger.Error("tracking store operation failed",
		zap.String("op", op),
		zap.String("ticket_number", ticket.Number),
		zap.Error(err),
	)
	return apperrors.Wrap(err, apperrors.CodeStoreFailure, "the request could not be processed", http.StatusInternalServerError)
}

// truncateRunes hard-truncates s to at most n characters.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
