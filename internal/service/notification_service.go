package service

import (
	"context"
	"strings"
	"time"

	"fetch/internal/delivery"
	"fetch/internal/models"
	"fetch/internal/notifications"
	"fetch/internal/observability"
	"fetch/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

const (
	maxNotificationTitle   = 120
	maxNotificationMessage = 500
)

// NotifyInput describes one notification to append.
type NotifyInput struct {
	RecipientID         string
	Kind                models.NotificationKind
	Title               string
	Message             string
	RelatedUserID       string
	RelatedEntryID      string
	RelatedFriendshipID string
}

// NotificationService records user-facing notifications and hands them to
// push delivery. Delivery and the change event are best effort.
type NotificationService struct {
	repo   repository.NotificationRepository
	events EventPublisher
	push   delivery.Handoff
	now    func() time.Time
}

// NewNotificationService returns a new NotificationService. events and push may be nil.
func NewNotificationService(repo repository.NotificationRepository, events EventPublisher, push delivery.Handoff) *NotificationService {
	return &NotificationService{
		repo:   repo,
		events: events,
		push:   push,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Notify appends exactly one record for a triggering event.
func (s *NotificationService) Notify(ctx context.Context, in NotifyInput) (*models.Notification, error) {
	if err := models.ValidateAccountID(in.RecipientID); err != nil {
		return nil, err
	}
	if !in.Kind.Valid() {
		return nil, models.NewValidationError("unknown notification kind")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, models.NewValidationError("notification title is required")
	}

	n := &models.Notification{
		RecipientID:         in.RecipientID,
		Kind:                in.Kind,
		Title:               truncate(title, maxNotificationTitle),
		Message:             truncate(in.Message, maxNotificationMessage),
		RelatedUserID:       optionalString(in.RelatedUserID),
		RelatedEntryID:      optionalString(in.RelatedEntryID),
		RelatedFriendshipID: optionalString(in.RelatedFriendshipID),
		CreatedAt:           s.now(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	observability.NotificationsTotal.WithLabelValues(string(n.Kind)).Inc()

	ctx = afterCommit(ctx)
	publishEvent(ctx, s.events, notifications.EventNotificationCreated, n.RecipientID, n)
	if s.push != nil {
		if err := s.push.Deliver(ctx, n); err != nil {
			observability.LogSideEffectFailure(ctx, "push_handoff", err)
		}
	}
	return n, nil
}

// MarkRead flags one of userID's notifications as read. Repeated calls succeed.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID, userID string) error {
	span, ctx := observability.NewSpan(ctx, "NotificationService.MarkRead",
		attribute.String("notification.id", notificationID))
	defer span.End()

	ok, err := s.repo.MarkRead(ctx, notificationID, userID, s.now())
	if err != nil {
		span.SetError(err)
		return err
	}
	if !ok {
		return models.NewNotFoundError("Notification", notificationID)
	}
	return nil
}

// MarkAllRead flags every unread notification of userID and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID, s.now())
}

// UnreadCount is always read from the store.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.repo.UnreadCount(ctx, userID)
}

// List returns the newest notifications first.
func (s *NotificationService) List(ctx context.Context, userID string, limit int, unreadOnly bool) ([]models.Notification, error) {
	return s.repo.List(ctx, userID, clampLimit(limit, 50, 100), unreadOnly)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
