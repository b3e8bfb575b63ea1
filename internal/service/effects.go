// Package service holds the orchestrators behind the API: gifts and other
// ledger postings, friend requests, notifications and ranking.
package service

import (
	"context"
	"log/slog"
	"strconv"

	"fetch/internal/models"
	"fetch/internal/notifications"
	"fetch/internal/observability"
)

// EventPublisher publishes committed changes to live subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, ev notifications.Event) error
}

// Notifier appends user-facing notification records.
type Notifier interface {
	Notify(ctx context.Context, in NotifyInput) (*models.Notification, error)
}

// afterCommit returns the context post-commit side effects run under. It
// outlives the caller's cancellation.
func afterCommit(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func publishEvent(ctx context.Context, pub EventPublisher, eventType notifications.EventType, userID string, payload interface{}) {
	if pub == nil {
		return
	}
	ev, err := notifications.NewEvent(eventType, userID, payload)
	if err == nil {
		err = pub.Publish(ctx, ev)
	}
	if err != nil {
		observability.LogSideEffectFailure(ctx, "event."+string(eventType), err, slog.String("recipient_id", userID))
	}
}

func sendNotification(ctx context.Context, n Notifier, in NotifyInput) {
	if n == nil {
		return
	}
	if _, err := n.Notify(ctx, in); err != nil {
		observability.LogSideEffectFailure(ctx, "notify."+string(in.Kind), err, slog.String("recipient_id", in.RecipientID))
	}
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatPoints(n int64) string {
	if n == 1 {
		return "1 point"
	}
	return strconv.FormatInt(n, 10) + " points"
}
