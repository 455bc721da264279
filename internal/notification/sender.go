// Package notification implements the staff inbox.
//
// Notifications are synchronous DB writes; the callers decide whether to run
// them detached from the request. External channels (email, push) are a later
// stage and would go through the job queue.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telya.io/werkstatt/internal/domain"
	"telya.io/werkstatt/internal/pkg/logger"
)

// Notification type constants. Stored as-is in the notifications table.
const (
	TypeKvaDecided      = "KVA_DECIDED"
	TypeCustomerMessage = "CUSTOMER_MESSAGE"
	TypeStatusChange    = "STATUS_CHANGE"
)

// Params holds the fields for creating a notification.
type Params struct {
	RecipientID  string
	Type         string
	Title        string
	Message      string
	ResourceType string
	ResourceID   string
}

// Sender delivers notifications to staff inboxes.
type Sender interface {
	// Send creates a notification for a single recipient.
	Send(ctx context.Context, params Params) error

	// SendToMany creates one notification per recipient. Best-effort: logs
	// per-recipient failures and keeps going.
	SendToMany(ctx context.Context, recipientIDs []string, params Params) error
}

// InboxStore is the persistence surface the sender needs.
type InboxStore interface {
	InsertNotifications(ctx context.Context, notifications []*domain.Notification) error
}

// InboxSender writes notifications to the database synchronously.
type InboxSender struct {
	store InboxStore
	now   func() time.Time
}

// NewInboxSender creates a new inbox sender.
func NewInboxSender(store InboxStore) *InboxSender {
	return &InboxSender{store: store, now: time.Now}
}

// Send stores a single notification.
func (s *InboxSender) Send(ctx context.Context, params Params) error {
	if err := validateParams(params); err != nil {
		return fmt.Errorf("notification params invalid: %w", err)
	}

	n := buildNotification(params, s.now().UTC())
	if err := s.store.InsertNotifications(ctx, []*domain.Notification{n}); err != nil {
		return fmt.Errorf("create notification for user %s: %w", params.RecipientID, err)
	}

	logger.Debug("notification sent",
		zap.String("recipient", params.RecipientID),
		zap.String("type", params.Type),
	)
	return nil
}

// SendToMany stores one notification per recipient in a single batch. The
// batch either commits for everyone or for no one; the caller retries as a
// whole.
func (s *InboxSender) SendToMany(ctx context.Context, recipientIDs []string, params Params) error {
	if len(recipientIDs) == 0 {
		return nil
	}
	if params.Title == "" {
		return fmt.Errorf("notification params invalid: title is required")
	}

	now := s.now().UTC()
	notifications := make([]*domain.Notification, 0, len(recipientIDs))
	seen := make(map[string]struct{}, len(recipientIDs))
	for _, id := range recipientIDs {
		if id == "" {
			continue
		}
		// One inbox row per recipient, even if the caller passed duplicates.
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		p := params
		p.RecipientID = id
		notifications = append(notifications, buildNotification(p, now))
	}

	if err := s.store.InsertNotifications(ctx, notifications); err != nil {
		return fmt.Errorf("notification delivery failed for %d recipients: %w", len(notifications), err)
	}

	logger.Debug("notification batch sent",
		zap.Int("recipients", len(notifications)),
		zap.String("type", params.Type),
	)
	return nil
}

// compile-time check
var _ Sender = (*InboxSender)(nil)

func buildNotification(p Params, createdAt time.Time) *domain.Notification {
	return &domain.Notification{
		ID:           uuid.NewString(),
		RecipientID:  p.RecipientID,
		Type:         p.Type,
		Title:        p.Title,
		Message:      p.Message,
		ResourceType: p.ResourceType,
		ResourceID:   p.ResourceID,
		CreatedAt:    createdAt,
	}
}

func validateParams(p Params) error {
	if p.RecipientID == "" {
		return fmt.Errorf("recipient_id is required")
	}
	if p.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}
