package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActivityKind is the owner's view of a ledger entry.
type ActivityKind string

const (
	ActivitySent     ActivityKind = "sent"
	ActivityReceived ActivityKind = "received"
	ActivityEarned   ActivityKind = "earned"
	ActivityDeducted ActivityKind = "deducted"
)

// Activity is one row of an account's feed, written together with its ledger entry.
type Activity struct {
	ID               string       `gorm:"primaryKey;size:36" json:"id"`
	OwnerID          string       `gorm:"size:128;not null;index:idx_activities_owner_created,priority:1" json:"owner_id"`
	Kind             ActivityKind `gorm:"size:16;not null" json:"kind"`
	CounterpartyID   *string      `gorm:"size:128" json:"counterparty_id,omitempty"`
	CounterpartyName string       `gorm:"size:100" json:"counterparty_name,omitempty"`
	Amount           int64        `gorm:"not null" json:"amount"`
	Message          string       `gorm:"size:280" json:"message,omitempty"`
	EntryID          string       `gorm:"size:26;not null;index" json:"entry_id"`
	CreatedAt        time.Time    `gorm:"index:idx_activities_owner_created,priority:2" json:"created_at"`
}

// TableName specifies the table name for Activity.
func (Activity) TableName() string {
	return "activities"
}

// BeforeCreate assigns a random id when none is set.
func (a *Activity) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
