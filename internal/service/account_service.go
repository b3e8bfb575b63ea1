package service

import (
	"context"
	"strings"
	"time"

	"fetch/internal/models"
	"fetch/internal/notifications"
	"fetch/internal/observability"
	"fetch/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const welcomeBonusMessage = "Welcome bonus"

// CreateAccountInput carries the identity claims and profile for a signup.
type CreateAccountInput struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Username      string `json:"username"`
	EmailVerified bool   `json:"email_verified"`
	// InitialBalance overrides the configured starting balance when positive.
	InitialBalance int64 `json:"initial_balance"`
}

// AccountService provides account lifecycle and lookup logic.
type AccountService struct {
	tx              *repository.TxRunner
	stores          ledgerStores
	hub             *notifications.Hub
	events          EventPublisher
	startingBalance int64
	now             func() time.Time
}

// NewAccountService returns a new AccountService. A non-positive
// startingBalance uses models.DefaultStartingBalance.
func NewAccountService(
	tx *repository.TxRunner,
	accounts repository.AccountRepository,
	ledger repository.LedgerRepository,
	activities repository.ActivityRepository,
	hub *notifications.Hub,
	events EventPublisher,
	startingBalance int64,
) *AccountService {
	if startingBalance <= 0 {
		startingBalance = models.DefaultStartingBalance
	}
	return &AccountService{
		tx:              tx,
		stores:          ledgerStores{accounts: accounts, ledger: ledger, activities: activities},
		hub:             hub,
		events:          events,
		startingBalance: startingBalance,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// CreateAccount opens an account with a zero balance and credits the
// starting balance as a welcome bonus entry in the same transaction.
func (s *AccountService) CreateAccount(ctx context.Context, in CreateAccountInput) (*models.Account, error) {
	span, ctx := observability.NewSpan(ctx, "AccountService.CreateAccount",
		attribute.String("account.id", in.ID))
	defer span.End()

	if err := models.ValidateAccountID(in.ID); err != nil {
		return nil, err
	}
	username := models.NormalizeUsername(in.Username)
	if err := models.ValidateUsername(username); err != nil {
		return nil, err
	}
	if in.InitialBalance < 0 {
		return nil, models.NewValidationError("initial balance must not be negative")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = username
	}
	if len([]rune(name)) > 100 {
		return nil, models.NewValidationError("name is too long")
	}
	balance := in.InitialBalance
	if balance == 0 {
		balance = s.startingBalance
	}

	var account *models.Account
	err := s.tx.InTx(ctx, "create_account", func(tx *gorm.DB) error {
		st := s.stores.withTx(tx)
		now := s.now()
		acct := &models.Account{
			ID:              in.ID,
			Name:            name,
			Username:        username,
			EmailVerified:   in.EmailVerified,
			GenerosityLevel: models.LevelNewbie,
			CreatedAt:       now,
			LastActive:      now,
		}
		if err := st.accounts.Create(ctx, acct); err != nil {
			return err
		}
		_, credited, err := st.post(ctx, posting{
			accountID: acct.ID,
			kind:      models.EntryKindBonus,
			amount:    balance,
			message:   welcomeBonusMessage,
			at:        now,
		})
		if err != nil {
			return err
		}
		account = credited
		return nil
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	observability.LedgerAmount.WithLabelValues(string(models.EntryKindBonus)).Observe(float64(balance))
	publishEvent(afterCommit(ctx), s.events, notifications.EventAccountUpdated, account.ID, account)
	return account, nil
}

// GetAccount returns the account for id.
func (s *AccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	if err := models.ValidateAccountID(id); err != nil {
		return nil, err
	}
	return s.stores.accounts.GetByID(ctx, id)
}

// SearchAccounts finds accounts whose username starts with prefix.
func (s *AccountService) SearchAccounts(ctx context.Context, prefix string, limit int) ([]models.Account, error) {
	prefix = models.NormalizeUsername(prefix)
	if prefix == "" {
		return nil, models.NewValidationError("search prefix is required")
	}
	return s.stores.accounts.Search(ctx, prefix, clampLimit(limit, 20, 50))
}

// IsUsernameAvailable reports whether username is valid and unclaimed.
func (s *AccountService) IsUsernameAvailable(ctx context.Context, username string) (bool, error) {
	username = models.NormalizeUsername(username)
	if err := models.ValidateUsername(username); err != nil {
		return false, err
	}
	_, err := s.stores.accounts.GetByUsername(ctx, username)
	switch {
	case err == nil:
		return false, nil
	case models.HasCode(err, models.CodeNotFound):
		return true, nil
	default:
		return false, err
	}
}

// Subscribe streams change events for userID until ctx ends. Subscribers
// that fall behind receive a resync event and should re-read state.
func (s *AccountService) Subscribe(ctx context.Context, userID string) (<-chan notifications.Event, error) {
	if err := models.ValidateAccountID(userID); err != nil {
		return nil, err
	}
	if s.hub == nil {
		ch := make(chan notifications.Event)
		close(ch)
		return ch, nil
	}
	return s.hub.Subscribe(ctx, userID), nil
}
