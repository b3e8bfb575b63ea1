package models

import "time"

// EntryKind is the kind of point movement recorded by a ledger entry.
type EntryKind string

const (
	EntryKindGift    EntryKind = "gift"
	EntryKindBonus   EntryKind = "bonus"
	EntryKindEarned  EntryKind = "earned"
	EntryKindPenalty EntryKind = "penalty"
)

// EntryStatus is the lifecycle state of a ledger entry.
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
)

// MaxMessageLength bounds the free-text message attached to an entry.
const MaxMessageLength = 280

// LedgerEntry records one point movement. Completed entries are never modified.
// The name and username fields are snapshots taken when the entry is written
// and may be stale relative to the current account.
type LedgerEntry struct {
	ID            string      `gorm:"primaryKey;size:26" json:"id"`
	Kind          EntryKind   `gorm:"size:16;not null;index" json:"kind"`
	FromAccountID *string     `gorm:"size:128;index:idx_ledger_from_created,priority:1" json:"from_account_id,omitempty"`
	ToAccountID   string      `gorm:"size:128;not null;index:idx_ledger_to_created,priority:1" json:"to_account_id"`
	Amount        int64       `gorm:"not null;check:amount > 0" json:"amount"`
	Message       string      `gorm:"size:280" json:"message,omitempty"`
	Status        EntryStatus `gorm:"size:16;not null;default:'pending'" json:"status"`
	FailureReason string      `gorm:"size:255" json:"failure_reason,omitempty"`
	FromName      string      `gorm:"size:100" json:"from_name,omitempty"`
	FromUsername  string      `gorm:"size:50" json:"from_username,omitempty"`
	ToName        string      `gorm:"size:100" json:"to_name,omitempty"`
	ToUsername    string      `gorm:"size:50" json:"to_username,omitempty"`
	CreatedAt     time.Time   `gorm:"not null;index:idx_ledger_from_created,priority:2;index:idx_ledger_to_created,priority:2" json:"created_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// TableName specifies the table name for LedgerEntry.
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// IsCompleted reports whether the entry has been applied to balances.
func (e *LedgerEntry) IsCompleted() bool {
	return e.Status == EntryStatusCompleted
}
