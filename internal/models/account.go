// Package models contains the domain types and the application error taxonomy.
package models

import (
	"strings"
	"time"
	"unicode"

	"gorm.io/datatypes"
)

// DefaultStartingBalance is credited to every new account as a welcome bonus.
const DefaultStartingBalance int64 = 500

const maxAccountIDLength = 128

// Account holds one user's spendable balance and lifetime stats.
type Account struct {
	ID              string                      `gorm:"primaryKey;size:128" json:"id"`
	Name            string                      `gorm:"size:100" json:"name"`
	Username        string                      `gorm:"size:50;uniqueIndex" json:"username"`
	Balance         int64                       `gorm:"not null;default:0;check:balance >= 0" json:"balance"`
	TotalEarned     int64                       `gorm:"not null;default:0" json:"total_earned"`
	TotalGifted     int64                       `gorm:"not null;default:0;index" json:"total_gifted"`
	GiftsGiven      int64                       `gorm:"not null;default:0" json:"gifts_given"`
	GiftsReceived   int64                       `gorm:"not null;default:0" json:"gifts_received"`
	Rank            int                         `gorm:"not null;default:0" json:"rank"`
	GenerosityScore int64                       `gorm:"not null;default:0" json:"generosity_score"`
	GenerosityLevel string                      `gorm:"size:20;not null;default:'Newbie'" json:"generosity_level"`
	Achievements    datatypes.JSONSlice[string] `json:"achievements"`
	EmailVerified   bool                        `gorm:"not null;default:false" json:"email_verified"`
	CreatedAt       time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
	LastActive      time.Time                   `json:"last_active"`
}

// TableName specifies the table name for Account.
func (Account) TableName() string {
	return "accounts"
}

// Delta is a set of increments applied to one account in a single conditional write.
// Balance may be negative (a debit); the write is rejected if it would leave the
// balance below zero. All other fields are non-negative increments.
type Delta struct {
	Balance       int64
	TotalEarned   int64
	TotalGifted   int64
	GiftsGiven    int64
	GiftsReceived int64
	// Touch bumps LastActive.
	Touch bool
}

// IsZero reports whether applying d would change nothing.
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// ValidateAccountID checks an identity-provider subject before it is used as a key.
func ValidateAccountID(id string) error {
	if id == "" {
		return NewValidationError("account id is required")
	}
	if len(id) > maxAccountIDLength {
		return NewValidationError("account id is too long")
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return NewValidationError("account id must not contain whitespace")
	}
	return nil
}

// NormalizeUsername lower-cases and trims a username for storage and lookup.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidateUsername enforces the username charset: 3-30 of [a-z0-9_.].
func ValidateUsername(username string) error {
	if len(username) < 3 || len(username) > 30 {
		return NewValidationError("username must be between 3 and 30 characters")
	}
	for _, r := range username {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_' && r != '.' {
			return NewValidationError("username may only contain letters, digits, '_' and '.'")
		}
	}
	return nil
}
