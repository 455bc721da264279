package tracking

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"telya.io/werkstatt/internal/domain"
	apperrors "telya.io/werkstatt/internal/pkg/errors"
	"telya.io/werkstatt/internal/pkg/logger"
)

// Verifier resolves a ticket by its human-readable number and checks the
// caller-supplied tracking token against the stored one. There is no session
// state; every request carries both values.
type Verifier struct {
	store Store
}

// NewVerifier creates an access verifier over the given store.
func NewVerifier(store Store) *Verifier {
	return &Verifier{store: store}
}

// Verify returns the ticket when number and token match. Unknown number and
// wrong token both yield the same generic message so the endpoint cannot be
// used to enumerate valid ticket numbers.
func (v *Verifier) Verify(ctx context.Context, ticketNumber, token string) (*domain.Ticket, error) {
	number := domain.NormalizeTicketNumber(ticketNumber)
	token = domain.NormalizeTrackingToken(token)

	if number == "" || token == "" {
		return nil, apperrors.ErrTrackingForbidden()
	}

	ticket, err := v.store.TicketByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrTrackingNotFound()
		}
		logger.Error("ticket lookup failed",
			zap.String("ticket_number", number),
			zap.Error(err),
		)
		return nil, apperrors.Wrap(err, apperrors.CodeStoreFailure, "ticket lookup failed", http.StatusInternalServerError)
	}

	if ticket.TrackingToken == "" || ticket.TrackingToken != token {
		return nil, apperrors.ErrTrackingForbidden()
	}

	return ticket, nil
}
