package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"telya.io/werkstatt/internal/domain"
	apperrors "telya.io/werkstatt/internal/pkg/errors"
)

const ticketColumns = `
	t.id, t.number, t.status, t.tracking_token, t.problem_description,
	t.kva_required, t.kva_approved, t.kva_approved_at, t.disposal_option,
	t.is_b2b, t.estimated_price, t.endcustomer_price,
	t.created_at, t.updated_at,
	COALESCE(d.id::text, ''), COALESCE(d.brand, ''), COALESCE(d.model, ''),
	COALESCE(d.device_type, ''), COALESCE(d.serial, ''), COALESCE(d.imei, ''),
	COALESCE(l.id::text, ''), COALESCE(l.name, ''), COALESCE(l.address, ''),
	COALESCE(l.phone, '')`

const ticketFrom = `
	FROM tickets t
	LEFT JOIN devices d ON d.id = t.device_id
	LEFT JOIN locations l ON l.id = t.location_id`

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		t         domain.Ticket
		disposal  *string
		estimated decimal.NullDecimal
		endPrice  decimal.NullDecimal
	)
	err := row.Scan(
		&t.ID, &t.Number, &t.Status, &t.TrackingToken, &t.ProblemDescription,
		&t.KvaRequired, &t.KvaApproved, &t.KvaApprovedAt, &disposal,
		&t.IsB2B, &estimated, &endPrice,
		&t.CreatedAt, &t.UpdatedAt,
		&t.Device.ID, &t.Device.Brand, &t.Device.Model,
		&t.Device.Type, &t.Device.Serial, &t.Device.IMEI,
		&t.Location.ID, &t.Location.Name, &t.Location.Address,
		&t.Location.Phone,
	)
	if err != nil {
		return nil, err
	}
	if disposal != nil {
		d := domain.DisposalOption(*disposal)
		t.DisposalOption = &d
	}
	t.EstimatedPrice = decimalPtr(estimated)
	t.EndcustomerPrice = decimalPtr(endPrice)
	return &t, nil
}

// TicketByNumber loads a ticket by its normalized number.
func (r *Repository) TicketByNumber(ctx context.Context, number string) (*domain.Ticket, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT`+ticketColumns+ticketFrom+` WHERE t.number = $1`, number)

	ticket, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", number, err)
	}
	return ticket, nil
}

// TicketByID loads a ticket by primary key.
func (r *Repository) TicketByID(ctx context.Context, id string) (*domain.Ticket, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT`+ticketColumns+ticketFrom+` WHERE t.id = $1`, id)

	ticket, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", id, err)
	}
	return ticket, nil
}

// ListTickets returns tickets newest first, optionally filtered by status.
func (r *Repository) ListTickets(ctx context.Context, status *domain.TicketStatus, limit, offset int) ([]*domain.Ticket, error) {
	query := `SELECT` + ticketColumns + ticketFrom
	args := []any{limit, offset}
	if status != nil {
		query += ` WHERE t.status = $3`
		args = append(args, string(*status))
	}
	query += ` ORDER BY t.created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// CreateTicket inserts the device, the ticket and the intake history row in
// one transaction. The caller fills IDs, number and tracking token.
func (r *Repository) CreateTicket(ctx context.Context, t *domain.Ticket) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin intake tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO devices (id, brand, model, device_type, serial, imei)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.Device.ID, t.Device.Brand, t.Device.Model, t.Device.Type,
		t.Device.Serial, t.Device.IMEI,
	); err != nil {
		return fmt.Errorf("insert device: %w", err)
	}

	var locationID *string
	if t.Location.ID != "" {
		locationID = &t.Location.ID
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO tickets (
			id, number, status, tracking_token, problem_description,
			kva_required, is_b2b, estimated_price, device_id, location_id,
			created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		t.ID, t.Number, string(t.Status), t.TrackingToken, t.ProblemDescription,
		t.KvaRequired, t.IsB2B, nullDecimal(t.EstimatedPrice),
		t.Device.ID, locationID, t.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert ticket %s: %w", t.Number, err)
	}

	if err := insertStatusHistory(ctx, tx, t.ID, t.Status, t.Status,
		"Gerät angenommen", t.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit intake tx: %w", err)
	}
	return nil
}

// UpdateTicketStatus moves a ticket to a new state and appends the history
// row in one transaction.
func (r *Repository) UpdateTicketStatus(ctx context.Context, ticketID string, newStatus domain.TicketStatus, note string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin status tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var oldStatus domain.TicketStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM tickets WHERE id = $1 FOR UPDATE`, ticketID,
	).Scan(&oldStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock ticket %s: %w", ticketID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tickets SET status = $1, updated_at = now() WHERE id = $2`,
		string(newStatus), ticketID,
	); err != nil {
		return fmt.Errorf("update ticket %s status: %w", ticketID, err)
	}

	if err := insertStatusHistoryNow(ctx, tx, ticketID, oldStatus, newStatus, note); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit status tx: %w", err)
	}
	return nil
}
