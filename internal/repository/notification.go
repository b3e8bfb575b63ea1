package repository

import (
	"context"
	"time"

	"fetch/internal/models"

	"gorm.io/gorm"
)

// NotificationRepository stores notification records.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	MarkRead(ctx context.Context, id, recipientID string, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error)
	UnreadCount(ctx context.Context, recipientID string) (int64, error)
	List(ctx context.Context, recipientID string, limit int, unreadOnly bool) ([]models.Notification, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return translateError(err)
	}
	return nil
}

// MarkRead flips the read flag. A notification that is already read still
// counts as found, so repeated calls succeed; the first readAt is kept.
func (r *notificationRepository) MarkRead(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ? AND is_read = ?", id, recipientID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Count(&count).Error; err != nil {
		return false, translateError(err)
	}
	return count == 1, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if res.Error != nil {
		return 0, translateError(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *notificationRepository) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error; err != nil {
		return 0, translateError(err)
	}
	return count, nil
}

func (r *notificationRepository) List(ctx context.Context, recipientID string, limit int, unreadOnly bool) ([]models.Notification, error) {
	q := r.db.WithContext(ctx).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var notifications []models.Notification
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&notifications).Error; err != nil {
		return nil, translateError(err)
	}
	return notifications, nil
}
