package repository

import (
	"context"
	"fmt"
	"time"

	"telya.io/werkstatt/internal/domain"
)

// InsertNotifications stores one inbox row per recipient in a single batch.
func (r *Repository) InsertNotifications(ctx context.Context, notifications []*domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin notification tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, n := range notifications {
		if _, err := tx.Exec(ctx,
			`INSERT INTO notifications (
				id, recipient_id, type, title, message,
				resource_type, resource_id, is_read, created_at
			 ) VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)`,
			n.ID, n.RecipientID, n.Type, n.Title, n.Message,
			n.ResourceType, n.ResourceID, n.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert notification for %s: %w", n.RecipientID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit notification tx: %w", err)
	}
	return nil
}

// NotificationsByRecipient returns a staff user's inbox, newest first.
func (r *Repository) NotificationsByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id, recipient_id, type, title, message,
	                 resource_type, resource_id, is_read, read_at, created_at
	          FROM notifications
	          WHERE recipient_id = $1`
	if unreadOnly {
		query += ` AND NOT is_read`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("load notifications for %s: %w", recipientID, err)
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Message,
			&n.ResourceType, &n.ResourceID, &n.Read, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// UnreadNotificationCount returns the number of unread inbox rows.
func (r *Repository) UnreadNotificationCount(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND NOT is_read`,
		recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread for %s: %w", recipientID, err)
	}
	return count, nil
}

// MarkNotificationRead marks one notification read. The recipient check
// prevents marking someone else's rows.
func (r *Repository) MarkNotificationRead(ctx context.Context, id, recipientID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE, read_at = now()
		 WHERE id = $1 AND recipient_id = $2 AND NOT is_read`,
		id, recipientID,
	)
	if err != nil {
		return false, fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkAllNotificationsRead marks every unread row of a recipient.
func (r *Repository) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE, read_at = now()
		 WHERE recipient_id = $1 AND NOT is_read`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark all read for %s: %w", recipientID, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteNotificationsBefore removes read notifications older than the cutoff.
// Called by the periodic cleanup job.
func (r *Repository) DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM notifications WHERE is_read AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete notifications before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
