package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"fetch/internal/models"
	"fetch/internal/observability"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountRepository defines the interface for account data operations
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	Search(ctx context.Context, prefix string, limit int) ([]models.Account, error)
	ApplyDelta(ctx context.Context, id string, delta models.Delta) (*models.Account, error)
	SetAchievements(ctx context.Context, id string, codes []string) error
	ListForRanking(ctx context.Context, limit int) ([]models.Account, error)
	CountGreaterTotalGifted(ctx context.Context, totalGifted int64) (int64, error)
	UpdateRanks(ctx context.Context, ranks map[string]int) error
	ListAll(ctx context.Context, batchSize int, fn func([]models.Account) error) error
	CreatedBetween(ctx context.Context, from, to time.Time) ([]models.Account, error)
	WithTx(tx *gorm.DB) AccountRepository
}

// accountRepository implements AccountRepository
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) WithTx(tx *gorm.DB) AccountRepository {
	return &accountRepository{db: tx}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.GenerosityLevel == "" {
		account.GenerosityLevel = models.GenerosityLevelFor(account.GenerosityScore)
	}
	if account.Achievements == nil {
		account.Achievements = datatypes.JSONSlice[string]{}
	}
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewAlreadyExistsError("account or username already exists")
		}
		return translateError(err)
	}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Account", id)
		}
		return nil, translateError(err)
	}
	return &account, nil
}

func (r *accountRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Account, error) {
	out := make(map[string]*models.Account, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var accounts []models.Account
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&accounts).Error; err != nil {
		return nil, translateError(err)
	}
	for i := range accounts {
		out[accounts[i].ID] = &accounts[i]
	}
	return out, nil
}

func (r *accountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	username = models.NormalizeUsername(username)
	var account models.Account
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Account", username)
		}
		return nil, translateError(err)
	}
	return &account, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *accountRepository) Search(ctx context.Context, prefix string, limit int) ([]models.Account, error) {
	prefix = models.NormalizeUsername(prefix)
	var accounts []models.Account
	if err := r.db.WithContext(ctx).
		Where(`username LIKE ? ESCAPE '\'`, likeEscaper.Replace(prefix)+"%").
		Order("username ASC").
		Limit(limit).
		Find(&accounts).Error; err != nil {
		return nil, translateError(err)
	}
	return accounts, nil
}

// ApplyDelta applies every counter in delta to one account in a single
// conditional UPDATE. The WHERE clause carries the non-negative balance guard,
// so the check and the debit cannot be separated by a concurrent writer.
// Zero rows affected means the account is missing or the debit would overdraw.
func (r *accountRepository) ApplyDelta(ctx context.Context, id string, delta models.Delta) (*models.Account, error) {
	defer observability.TrackQuery("apply_delta", "accounts")()

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"balance":          gorm.Expr("balance + ?", delta.Balance),
		"total_earned":     gorm.Expr("total_earned + ?", delta.TotalEarned),
		"total_gifted":     gorm.Expr("total_gifted + ?", delta.TotalGifted),
		"gifts_given":      gorm.Expr("gifts_given + ?", delta.GiftsGiven),
		"gifts_received":   gorm.Expr("gifts_received + ?", delta.GiftsReceived),
		"generosity_score": gorm.Expr("total_gifted + ?", delta.TotalGifted),
		"generosity_level": generosityLevelExpr(delta.TotalGifted),
		"updated_at":       now,
	}
	if delta.Touch {
		updates["last_active"] = now
	}

	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND balance + ? >= 0", id, delta.Balance).
		Updates(updates)
	if res.Error != nil {
		if isCheckConstraintError(res.Error) {
			return nil, models.NewInsufficientFundsError(0, -delta.Balance)
		}
		return nil, translateError(res.Error)
	}

	if res.RowsAffected == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, models.NewInsufficientFundsError(current.Balance, -delta.Balance)
	}

	return r.GetByID(ctx, id)
}

// generosityLevelExpr derives the post-update level inside the UPDATE so it
// always agrees with the new total.
func generosityLevelExpr(totalGiftedDelta int64) clause.Expr {
	tiers := models.GenerosityTiers
	var sb strings.Builder
	args := make([]interface{}, 0, len(tiers)*3)
	sb.WriteString("CASE")
	for _, t := range tiers[:len(tiers)-1] {
		sb.WriteString(" WHEN total_gifted + ? >= ? THEN ?")
		args = append(args, totalGiftedDelta, t.Min, t.Level)
	}
	sb.WriteString(" ELSE ? END")
	args = append(args, tiers[len(tiers)-1].Level)
	return gorm.Expr(sb.String(), args...)
}

func (r *accountRepository) SetAchievements(ctx context.Context, id string, codes []string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		UpdateColumn("achievements", datatypes.JSONSlice[string](codes))
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Account", id)
	}
	return nil
}

func (r *accountRepository) ListForRanking(ctx context.Context, limit int) ([]models.Account, error) {
	defer observability.TrackQuery("list_for_ranking", "accounts")()

	q := r.db.WithContext(ctx).Order("total_gifted DESC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var accounts []models.Account
	if err := q.Find(&accounts).Error; err != nil {
		return nil, translateError(err)
	}
	return accounts, nil
}

func (r *accountRepository) CountGreaterTotalGifted(ctx context.Context, totalGifted int64) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("total_gifted > ?", totalGifted).
		Count(&count).Error; err != nil {
		return 0, translateError(err)
	}
	return count, nil
}

// UpdateRanks writes cached ranks. Rows whose rank is unchanged are skipped.
func (r *accountRepository) UpdateRanks(ctx context.Context, ranks map[string]int) error {
	for id, rank := range ranks {
		if err := r.db.WithContext(ctx).
			Model(&models.Account{}).
			Where("id = ? AND rank <> ?", id, rank).
			UpdateColumn("rank", rank).Error; err != nil {
			return translateError(err)
		}
	}
	return nil
}

// ListAll walks every account in id order, batchSize rows at a time.
func (r *accountRepository) ListAll(ctx context.Context, batchSize int, fn func([]models.Account) error) error {
	if batchSize <= 0 {
		batchSize = 200
	}
	cursor := ""
	for {
		var batch []models.Account
		if err := r.db.WithContext(ctx).
			Where("id > ?", cursor).
			Order("id ASC").
			Limit(batchSize).
			Find(&batch).Error; err != nil {
			return translateError(err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		cursor = batch[len(batch)-1].ID
	}
}

func (r *accountRepository) CreatedBetween(ctx context.Context, from, to time.Time) ([]models.Account, error) {
	var accounts []models.Account
	if err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("id ASC").
		Find(&accounts).Error; err != nil {
		return nil, translateError(err)
	}
	return accounts, nil
}
