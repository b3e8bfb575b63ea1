package models

import (
	"strconv"
	"time"

	"gorm.io/gorm"
)

// FriendshipStatus represents the status of a friendship edge.
type FriendshipStatus string

const (
	// FriendshipStatusNone is reported for a pair with no edge; it is never stored.
	FriendshipStatusNone FriendshipStatus = "none"
	// FriendshipStatusPending indicates a pending friendship request.
	FriendshipStatusPending FriendshipStatus = "pending"
	// FriendshipStatusAccepted indicates an accepted friendship request.
	FriendshipStatusAccepted FriendshipStatus = "accepted"
	// FriendshipStatusBlocked indicates a blocked pair.
	FriendshipStatusBlocked FriendshipStatus = "blocked"
)

// Friendship is the single edge stored for an unordered pair of accounts.
// The two ids are kept in canonical (lexicographic) order and the primary key
// is derived from them, so either side creating the edge targets the same row.
// See PairKey for the key format.
// Name and username fields are snapshots taken at creation.
type Friendship struct {
	ID           string           `gorm:"primaryKey;size:262" json:"id"`
	UserLowID    string           `gorm:"size:128;not null;index" json:"user_low_id"`
	UserHighID   string           `gorm:"size:128;not null;index" json:"user_high_id"`
	Status       FriendshipStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_friendships_status" json:"status"`
	InitiatedBy  string           `gorm:"size:128;not null" json:"initiated_by"`
	BlockedBy    *string          `gorm:"size:128" json:"blocked_by,omitempty"`
	LowName      string           `gorm:"size:100" json:"low_name"`
	LowUsername  string           `gorm:"size:50" json:"low_username"`
	HighName     string           `gorm:"size:100" json:"high_name"`
	HighUsername string           `gorm:"size:50" json:"high_username"`
	CreatedAt    time.Time        `json:"created_at"`
	AcceptedAt   *time.Time       `json:"accepted_at,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Friendship) TableName() string {
	return "friendships"
}

// BeforeCreate keeps the key consistent with the stored pair.
func (f *Friendship) BeforeCreate(_ *gorm.DB) error {
	if f.ID == "" {
		f.ID = PairKey(f.UserLowID, f.UserHighID)
	}
	return nil
}

// CanonicalPair orders two account ids lexicographically.
func CanonicalPair(a, b string) (low, high string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// PairKey returns the edge key for an unordered pair of accounts:
// "<len(low)>:<low>:<high>". Account ids may contain ':', so the length of the
// low id is what keeps ("a:b", "c") and ("a", "b:c") on different keys.
func PairKey(a, b string) string {
	low, high := CanonicalPair(a, b)
	return strconv.Itoa(len(low)) + ":" + low + ":" + high
}

// Involves reports whether userID is one side of the edge.
func (f *Friendship) Involves(userID string) bool {
	return f.UserLowID == userID || f.UserHighID == userID
}

// OtherID returns the id of the side that is not userID.
func (f *Friendship) OtherID(userID string) string {
	if f.UserLowID == userID {
		return f.UserHighID
	}
	return f.UserLowID
}

// Recipient returns the side that did not initiate the request.
func (f *Friendship) Recipient() string {
	return f.OtherID(f.InitiatedBy)
}

// FriendRequest pairs a pending edge with the account on the other side.
type FriendRequest struct {
	Friendship Friendship `json:"friendship"`
	Account    Account    `json:"account"`
}
