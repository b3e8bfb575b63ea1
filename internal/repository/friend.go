package repository

import (
	"context"
	"errors"
	"time"

	"fetch/internal/models"

	"gorm.io/gorm"
)

// FriendRepository defines the interface for friendship edge operations
type FriendRepository interface {
	Create(ctx context.Context, friendship *models.Friendship) error
	GetByID(ctx context.Context, id string) (*models.Friendship, error)
	GetBetween(ctx context.Context, userA, userB string) (*models.Friendship, error)
	Accept(ctx context.Context, id, acceptingUserID string, at time.Time) (bool, error)
	Block(ctx context.Context, id, blockerID string) (bool, error)
	Delete(ctx context.Context, id string) error
	ListFriends(ctx context.Context, userID string) ([]models.Account, error)
	ListPendingIncoming(ctx context.Context, userID string) ([]models.Friendship, error)
	ListPendingOutgoing(ctx context.Context, userID string) ([]models.Friendship, error)
}

// friendRepository implements FriendRepository
type friendRepository struct {
	db *gorm.DB
}

// NewFriendRepository creates a new friend repository
func NewFriendRepository(db *gorm.DB) FriendRepository {
	return &friendRepository{db: db}
}

// Create inserts the edge keyed by its canonical pair. The primary key makes
// this the existence check: a second insert for the same pair, from either
// side, fails with AlreadyExists.
func (r *friendRepository) Create(ctx context.Context, friendship *models.Friendship) error {
	friendship.UserLowID, friendship.UserHighID = models.CanonicalPair(friendship.UserLowID, friendship.UserHighID)
	friendship.ID = models.PairKey(friendship.UserLowID, friendship.UserHighID)
	if err := r.db.WithContext(ctx).Create(friendship).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewAlreadyExistsError("a friendship already exists between these users")
		}
		return translateError(err)
	}
	return nil
}

func (r *friendRepository) GetByID(ctx context.Context, id string) (*models.Friendship, error) {
	var friendship models.Friendship
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&friendship).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Friendship", id)
		}
		return nil, translateError(err)
	}
	return &friendship, nil
}

// GetBetween returns the edge for the pair, or nil if none exists.
func (r *friendRepository) GetBetween(ctx context.Context, userA, userB string) (*models.Friendship, error) {
	f, err := r.GetByID(ctx, models.PairKey(userA, userB))
	if models.HasCode(err, models.CodeNotFound) {
		return nil, nil
	}
	return f, err
}

// Accept moves a pending edge to accepted when acceptingUserID is the side that
// did not initiate it. It reports false when no row matched those conditions.
func (r *friendRepository) Accept(ctx context.Context, id, acceptingUserID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Friendship{}).
		Where("id = ? AND status = ? AND initiated_by <> ? AND (user_low_id = ? OR user_high_id = ?)",
			id, models.FriendshipStatusPending, acceptingUserID, acceptingUserID, acceptingUserID).
		Updates(map[string]interface{}{
			"status":      models.FriendshipStatusAccepted,
			"accepted_at": at,
			"updated_at":  at,
		})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Block marks an existing edge blocked by blockerID. Reports false when the edge is absent.
func (r *friendRepository) Block(ctx context.Context, id, blockerID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Friendship{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.FriendshipStatusBlocked,
			"blocked_by": blockerID,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, translateError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Delete removes the edge. Deleting an absent edge is not an error.
func (r *friendRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Friendship{}).Error; err != nil {
		return translateError(err)
	}
	return nil
}

// ListFriends returns accounts joined by an accepted edge, in leaderboard order.
func (r *friendRepository) ListFriends(ctx context.Context, userID string) ([]models.Account, error) {
	var accounts []models.Account
	if err := r.db.WithContext(ctx).
		Table("accounts").
		Select("accounts.*").
		Joins("JOIN friendships f ON (accounts.id = f.user_low_id OR accounts.id = f.user_high_id)").
		Where("f.status = ? AND (f.user_low_id = ? OR f.user_high_id = ?) AND accounts.id <> ?",
			models.FriendshipStatusAccepted, userID, userID, userID).
		Order("accounts.total_gifted DESC").
		Order("accounts.id ASC").
		Find(&accounts).Error; err != nil {
		return nil, translateError(err)
	}
	return accounts, nil
}

func (r *friendRepository) ListPendingIncoming(ctx context.Context, userID string) ([]models.Friendship, error) {
	var friendships []models.Friendship
	if err := r.db.WithContext(ctx).
		Where("status = ? AND (user_low_id = ? OR user_high_id = ?) AND initiated_by <> ?",
			models.FriendshipStatusPending, userID, userID, userID).
		Order("created_at DESC").
		Find(&friendships).Error; err != nil {
		return nil, translateError(err)
	}
	return friendships, nil
}

func (r *friendRepository) ListPendingOutgoing(ctx context.Context, userID string) ([]models.Friendship, error) {
	var friendships []models.Friendship
	if err := r.db.WithContext(ctx).
		Where("status = ? AND initiated_by = ?", models.FriendshipStatusPending, userID).
		Order("created_at DESC").
		Find(&friendships).Error; err != nil {
		return nil, translateError(err)
	}
	return friendships, nil
}
