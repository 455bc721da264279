package repository

import (
	"context"
	"fmt"

	"telya.io/werkstatt/internal/domain"
)

// InsertMessage stores one ticket message.
func (r *Repository) InsertMessage(ctx context.Context, m *domain.TicketMessage) error {
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO ticket_messages (id, ticket_id, sender, body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.TicketID, string(m.Sender), m.Body, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert message for %s: %w", m.TicketID, err)
	}
	return nil
}

// MessagesByTicket returns all messages of a ticket, oldest first.
func (r *Repository) MessagesByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, ticket_id, sender, body, created_at
		 FROM ticket_messages
		 WHERE ticket_id = $1
		 ORDER BY created_at ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("load messages for %s: %w", ticketID, err)
	}
	defer rows.Close()

	var messages []domain.TicketMessage
	for rows.Next() {
		var m domain.TicketMessage
		if err := rows.Scan(&m.ID, &m.TicketID, &m.Sender, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
