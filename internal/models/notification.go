package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationKind classifies a user-facing notification.
type NotificationKind string

const (
	NotificationGiftReceived        NotificationKind = "gift_received"
	NotificationFriendRequest       NotificationKind = "friend_request"
	NotificationFriendAccepted      NotificationKind = "friend_accepted"
	NotificationAchievementUnlocked NotificationKind = "achievement_unlocked"
	NotificationLeaderboardChange   NotificationKind = "leaderboard_change"
	NotificationPointsExpiring      NotificationKind = "points_expiring"
	NotificationWeeklyReport        NotificationKind = "weekly_report"
)

// Valid reports whether k is a known notification kind.
func (k NotificationKind) Valid() bool {
	switch k {
	case NotificationGiftReceived, NotificationFriendRequest, NotificationFriendAccepted,
		NotificationAchievementUnlocked, NotificationLeaderboardChange,
		NotificationPointsExpiring, NotificationWeeklyReport:
		return true
	}
	return false
}

// Notification is a user-facing record. Only Read and ReadAt ever change.
type Notification struct {
	ID                  string           `gorm:"primaryKey;size:36" json:"id"`
	RecipientID         string           `gorm:"size:128;not null;index:idx_notifications_recipient,priority:1" json:"recipient_id"`
	Kind                NotificationKind `gorm:"size:32;not null" json:"kind"`
	Title               string           `gorm:"size:120;not null" json:"title"`
	Message             string           `gorm:"size:500" json:"message"`
	RelatedUserID       *string          `gorm:"size:128" json:"related_user_id,omitempty"`
	RelatedEntryID      *string          `gorm:"size:26" json:"related_entry_id,omitempty"`
	RelatedFriendshipID *string          `gorm:"size:262" json:"related_friendship_id,omitempty"`
	Read                bool             `gorm:"column:is_read;not null;default:false;index:idx_notifications_recipient,priority:2" json:"read"`
	CreatedAt           time.Time        `gorm:"index" json:"created_at"`
	ReadAt              *time.Time       `json:"read_at,omitempty"`
}

// TableName specifies the table name for Notification.
func (Notification) TableName() string {
	return "notifications"
}

// BeforeCreate assigns a random id when none is set.
func (n *Notification) BeforeCreate(_ *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
