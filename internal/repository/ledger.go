package repository

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"fetch/internal/models"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// LedgerRepository defines the interface for ledger entry storage.
type LedgerRepository interface {
	Create(ctx context.Context, entry *models.LedgerEntry) error
	GetByID(ctx context.Context, id string) (*models.LedgerEntry, error)
	History(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error)
	SumSince(ctx context.Context, accountID string, since time.Time) (sent, received int64, err error)
	WithTx(tx *gorm.DB) LedgerRepository
}

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) WithTx(tx *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: tx}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEntryID returns a ULID, so entry ids sort in creation order.
func NewEntryID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// Create inserts an entry. Entries are append-only; there is no update path.
func (r *ledgerRepository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.ID == "" {
		entry.ID = NewEntryID(entry.CreatedAt)
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewAlreadyExistsError("ledger entry already exists")
		}
		return translateError(err)
	}
	return nil
}

func (r *ledgerRepository) GetByID(ctx context.Context, id string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("LedgerEntry", id)
		}
		return nil, translateError(err)
	}
	return &entry, nil
}

// History returns the newest entries the account sent or received, newest
// first. Equal timestamps are ordered by id so pages are stable.
func (r *ledgerRepository) History(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("from_account_id = ? OR to_account_id = ?", accountID, accountID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, translateError(err)
	}
	return entries, nil
}

// SumSince totals completed gifts sent and received by the account since a point in time.
func (r *ledgerRepository) SumSince(ctx context.Context, accountID string, since time.Time) (int64, int64, error) {
	var sums struct {
		Sent     int64
		Received int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select(
			"COALESCE(SUM(CASE WHEN from_account_id = ? THEN amount ELSE 0 END), 0) AS sent, "+
				"COALESCE(SUM(CASE WHEN to_account_id = ? THEN amount ELSE 0 END), 0) AS received",
			accountID, accountID,
		).
		Where("kind = ? AND status = ? AND created_at >= ?", models.EntryKindGift, models.EntryStatusCompleted, since).
		Where("from_account_id = ? OR to_account_id = ?", accountID, accountID).
		Scan(&sums).Error; err != nil {
		return 0, 0, translateError(err)
	}
	return sums.Sent, sums.Received, nil
}
