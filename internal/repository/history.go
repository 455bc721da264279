package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"telya.io/werkstatt/internal/domain"
)

// StatusHistory returns all status transitions of a ticket, oldest first.
func (r *Repository) StatusHistory(ctx context.Context, ticketID string) ([]domain.StatusHistoryEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, ticket_id, old_status, new_status, note, created_at
		 FROM ticket_status_history
		 WHERE ticket_id = $1
		 ORDER BY created_at ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("load status history for %s: %w", ticketID, err)
	}
	defer rows.Close()

	var entries []domain.StatusHistoryEntry
	for rows.Next() {
		var e domain.StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.TicketID, &e.OldStatus, &e.NewStatus,
			&e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AppendStatusNote appends a history row without a status change. Used as
// the fallback store for customer messages.
func (r *Repository) AppendStatusNote(ctx context.Context, ticketID string, status domain.TicketStatus, note string) error {
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO ticket_status_history (id, ticket_id, old_status, new_status, note, created_at)
		 VALUES ($1, $2, $3, $3, $4, now())`,
		uuid.NewString(), ticketID, string(status), note,
	); err != nil {
		return fmt.Errorf("append status note for %s: %w", ticketID, err)
	}
	return nil
}

func insertStatusHistory(ctx context.Context, tx pgx.Tx, ticketID string, oldStatus, newStatus domain.TicketStatus, note string, at time.Time) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO ticket_status_history (id, ticket_id, old_status, new_status, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), ticketID, string(oldStatus), string(newStatus), note, at,
	); err != nil {
		return fmt.Errorf("insert status history for %s: %w", ticketID, err)
	}
	return nil
}

func insertStatusHistoryNow(ctx context.Context, tx pgx.Tx, ticketID string, oldStatus, newStatus domain.TicketStatus, note string) error {
	return insertStatusHistory(ctx, tx, ticketID, oldStatus, newStatus, note, time.Now().UTC())
}
