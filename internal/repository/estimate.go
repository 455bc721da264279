package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"telya.io/werkstatt/internal/domain"
	apperrors "telya.io/werkstatt/internal/pkg/errors"
)

const estimateColumns = `
	id, ticket_id, version, kva_type, status,
	repair_cost, parts_cost, cost_min, cost_max, fee_amount, fee_waived,
	endcustomer_price, endcustomer_price_released,
	valid_until, is_current, decided_at, created_at`

func scanEstimate(row pgx.Row) (*domain.KvaEstimate, error) {
	var (
		e                                          domain.KvaEstimate
		repair, parts, costMin, costMax, fee, endP decimal.NullDecimal
	)
	err := row.Scan(
		&e.ID, &e.TicketID, &e.Version, &e.KvaType, &e.Status,
		&repair, &parts, &costMin, &costMax, &fee, &e.FeeWaived,
		&endP, &e.EndcustomerPriceReleased,
		&e.ValidUntil, &e.IsCurrent, &e.DecidedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.RepairCost = decimalPtr(repair)
	e.PartsCost = decimalPtr(parts)
	e.CostMin = decimalPtr(costMin)
	e.CostMax = decimalPtr(costMax)
	e.FeeAmount = decimalPtr(fee)
	e.EndcustomerPrice = decimalPtr(endP)
	return &e, nil
}

// CurrentEstimate returns the ticket's current estimate, or nil when the
// ticket has none.
func (r *Repository) CurrentEstimate(ctx context.Context, ticketID string) (*domain.KvaEstimate, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT`+estimateColumns+` FROM kva_estimates
		 WHERE ticket_id = $1 AND is_current`, ticketID)

	est, err := scanEstimate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load current estimate for %s: %w", ticketID, err)
	}
	return est, nil
}

// EstimateByID loads one estimate version.
func (r *Repository) EstimateByID(ctx context.Context, id string) (*domain.KvaEstimate, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT`+estimateColumns+` FROM kva_estimates WHERE id = $1`, id)

	est, err := scanEstimate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load estimate %s: %w", id, err)
	}
	return est, nil
}

// CreateEstimate inserts a new estimate version and moves the ticket into
// KVA_OFFEN in one transaction. Any previous current version is superseded.
func (r *Repository) CreateEstimate(ctx context.Context, est *domain.KvaEstimate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin estimate tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var oldStatus domain.TicketStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM tickets WHERE id = $1 FOR UPDATE`, est.TicketID,
	).Scan(&oldStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock ticket %s: %w", est.TicketID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE kva_estimates SET is_current = FALSE
		 WHERE ticket_id = $1 AND is_current`, est.TicketID,
	); err != nil {
		return fmt.Errorf("supersede current estimate for %s: %w", est.TicketID, err)
	}

	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM kva_estimates WHERE ticket_id = $1`,
		est.TicketID,
	).Scan(&est.Version); err != nil {
		return fmt.Errorf("next estimate version for %s: %w", est.TicketID, err)
	}

	est.Status = domain.EstimateOffen
	est.IsCurrent = true

	if _, err := tx.Exec(ctx,
		`INSERT INTO kva_estimates (
			id, ticket_id, version, kva_type, status,
			repair_cost, parts_cost, cost_min, cost_max, fee_amount, fee_waived,
			endcustomer_price, endcustomer_price_released,
			valid_until, is_current, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, TRUE, $15)`,
		est.ID, est.TicketID, est.Version, est.KvaType, string(est.Status),
		nullDecimal(est.RepairCost), nullDecimal(est.PartsCost),
		nullDecimal(est.CostMin), nullDecimal(est.CostMax),
		nullDecimal(est.FeeAmount), est.FeeWaived,
		nullDecimal(est.EndcustomerPrice), est.EndcustomerPriceReleased,
		est.ValidUntil, est.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert estimate v%d for %s: %w", est.Version, est.TicketID, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO kva_history (id, estimate_id, action, status, note, created_at)
		 VALUES ($1, $2, 'CREATED', $3, $4, $5)`,
		uuid.NewString(), est.ID, string(est.Status),
		fmt.Sprintf("KVA Version %d erstellt", est.Version), est.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert kva history for %s: %w", est.ID, err)
	}

	if oldStatus != domain.TicketKvaOffen {
		if _, err := tx.Exec(ctx,
			`UPDATE tickets SET status = $1, kva_required = TRUE, updated_at = now()
			 WHERE id = $2`,
			string(domain.TicketKvaOffen), est.TicketID,
		); err != nil {
			return fmt.Errorf("move ticket %s to KVA_OFFEN: %w", est.TicketID, err)
		}
		if err := insertStatusHistory(ctx, tx, est.TicketID, oldStatus,
			domain.TicketKvaOffen, "KVA erstellt, wartet auf Kundenentscheidung",
			est.CreatedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit estimate tx: %w", err)
	}
	return nil
}

// ReleaseEndcustomerPrice sets the reseller's retail price on a B2B ticket's
// current estimate and flips the release flag. Ticket and estimate are kept
// in sync in one transaction.
func (r *Repository) ReleaseEndcustomerPrice(ctx context.Context, estimateID string, price decimal.Decimal) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var ticketID string
	err = tx.QueryRow(ctx,
		`UPDATE kva_estimates
		 SET endcustomer_price = $1, endcustomer_price_released = TRUE
		 WHERE id = $2
		 RETURNING ticket_id`,
		decimal.NullDecimal{Decimal: price, Valid: true}, estimateID,
	).Scan(&ticketID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("release endcustomer price on %s: %w", estimateID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tickets SET endcustomer_price = $1, updated_at = now() WHERE id = $2`,
		decimal.NullDecimal{Decimal: price, Valid: true}, ticketID,
	); err != nil {
		return fmt.Errorf("sync endcustomer price to ticket %s: %w", ticketID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit release tx: %w", err)
	}
	return nil
}

// ApplyKvaDecision applies the customer's decision write set atomically.
// The guards repeat the service-level preconditions inside the transaction
// so two racing decisions cannot both commit.
func (r *Repository) ApplyKvaDecision(ctx context.Context, d domain.KvaDecision) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin decision tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if d.EstimateID != "" {
		tag, err := tx.Exec(ctx,
			`UPDATE kva_estimates SET status = $1, decided_at = $2
			 WHERE id = $3 AND status = $4`,
			string(d.NewStatus), d.DecidedAt, d.EstimateID,
			string(domain.EstimateOffen),
		)
		if err != nil {
			return fmt.Errorf("decide estimate %s: %w", d.EstimateID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("decide estimate %s: already decided: %w", d.EstimateID, apperrors.ErrConflict)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO kva_history (id, estimate_id, action, status, note, created_at)
			 VALUES ($1, $2, 'CUSTOMER_DECISION', $3, $4, $5)`,
			uuid.NewString(), d.EstimateID, string(d.NewStatus), d.HistoryNote,
			d.DecidedAt,
		); err != nil {
			return fmt.Errorf("insert kva history for %s: %w", d.EstimateID, err)
		}
	}

	var oldStatus domain.TicketStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM tickets WHERE id = $1 FOR UPDATE`, d.TicketID,
	).Scan(&oldStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("decision ticket %s not found", d.TicketID)
	}
	if err != nil {
		return fmt.Errorf("lock ticket %s: %w", d.TicketID, err)
	}

	newTicketStatus := oldStatus
	if d.NewTicketState != nil {
		newTicketStatus = *d.NewTicketState
	}

	var disposal *string
	if d.DisposalOption != nil {
		s := string(*d.DisposalOption)
		disposal = &s
	}

	// The ticket-level flag mirrors the most recent decided version. With a
	// versioned estimate the status guard above already makes the decision
	// at-most-once per version, and a later version may overwrite the mirror
	// (rejected v1, customer decides v2). Only legacy tickets without an
	// estimate row use the flag itself as the guard.
	ticketUpdate := `UPDATE tickets
		 SET status = $1, kva_approved = $2, kva_approved_at = $3,
		     disposal_option = $4, updated_at = now()
		 WHERE id = $5`
	if d.EstimateID == "" {
		ticketUpdate += ` AND kva_approved IS NULL`
	}

	tag, err := tx.Exec(ctx, ticketUpdate,
		string(newTicketStatus), d.Approved, d.DecidedAt, disposal, d.TicketID,
	)
	if err != nil {
		return fmt.Errorf("apply decision to ticket %s: %w", d.TicketID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("apply decision to ticket %s: already decided: %w", d.TicketID, apperrors.ErrConflict)
	}

	if err := insertStatusHistory(ctx, tx, d.TicketID, oldStatus,
		newTicketStatus, d.StatusNote, d.DecidedAt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit decision tx: %w", err)
	}
	return nil
}
