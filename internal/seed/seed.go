// Package seed provides database seeding utilities for development and testing.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"fetch/internal/models"
	"fetch/internal/observability"
	"fetch/internal/repository"
	"fetch/internal/service"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Options configures a seeding run.
type Options struct {
	NumAccounts int
	NumGifts    int
	// FriendRequests is how many requests each account sends.
	FriendRequests int
	// AcceptPercent of requests are accepted, 0-100.
	AcceptPercent int
	ShouldClean   bool
	// RandSeed makes a run reproducible when non-zero.
	RandSeed int64
}

// DefaultOptions is a small, lively data set.
func DefaultOptions() Options {
	return Options{
		NumAccounts:    25,
		NumGifts:       150,
		FriendRequests: 3,
		AcceptPercent:  70,
		ShouldClean:    true,
	}
}

// Accounts creates accounts.
type Accounts interface {
	CreateAccount(ctx context.Context, in service.CreateAccountInput) (*models.Account, error)
}

// Ledger moves points between accounts.
type Ledger interface {
	Transfer(ctx context.Context, in service.TransferInput) (*service.TransferResult, error)
}

// Friends manages friend requests.
type Friends interface {
	SendRequest(ctx context.Context, senderID, receiverID string) (*models.Friendship, error)
	Accept(ctx context.Context, edgeID, acceptingUserID string) (*models.Friendship, error)
}

// Seeder populates the store through the services, so balances, history and
// notifications stay consistent with what the API would have produced.
type Seeder struct {
	db       *gorm.DB
	accounts Accounts
	ledger   Ledger
	friends  Friends
}

// Report counts what a run created.
type Report struct {
	Accounts       int
	Gifts          int
	FailedGifts    int
	FriendRequests int
	Friendships    int
}

// New wires a Seeder over db using the real services without Redis, push or
// live events.
func New(db *gorm.DB) *Seeder {
	accountRepo := repository.NewAccountRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	notes := service.NewNotificationService(repository.NewNotificationRepository(db), nil, nil)
	runner := repository.NewTxRunner(db, repository.DefaultRetryBudget)

	return &Seeder{
		db:       db,
		accounts: service.NewAccountService(runner, accountRepo, ledgerRepo, activityRepo, nil, nil, 0),
		ledger:   service.NewLedgerService(runner, accountRepo, ledgerRepo, activityRepo, notes, nil, nil),
		friends:  service.NewFriendService(repository.NewFriendRepository(db), accountRepo, notes, nil),
	}
}

// NewWithServices builds a Seeder over caller-supplied services.
func NewWithServices(db *gorm.DB, accounts Accounts, ledger Ledger, friends Friends) *Seeder {
	return &Seeder{db: db, accounts: accounts, ledger: ledger, friends: friends}
}

// Run seeds according to opts.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Report, error) {
	faker := gofakeit.New(opts.RandSeed)
	report := &Report{}

	observability.Logger.Info("seeding database",
		slog.Int("accounts", opts.NumAccounts),
		slog.Int("gifts", opts.NumGifts),
	)

	if opts.ShouldClean {
		if err := s.ClearAll(ctx); err != nil {
			return nil, err
		}
	}

	ids, err := s.seedAccounts(ctx, faker, opts.NumAccounts)
	if err != nil {
		return nil, fmt.Errorf("failed to create accounts: %w", err)
	}
	report.Accounts = len(ids)
	if len(ids) < 2 {
		return report, nil
	}

	if err := s.seedFriendships(ctx, faker, ids, opts, report); err != nil {
		return nil, fmt.Errorf("failed to create friendships: %w", err)
	}
	if err := s.seedGifts(ctx, faker, ids, opts.NumGifts, report); err != nil {
		return nil, fmt.Errorf("failed to create gifts: %w", err)
	}

	observability.Logger.Info("seeding complete",
		slog.Int("accounts", report.Accounts),
		slog.Int("gifts", report.Gifts),
		slog.Int("failed_gifts", report.FailedGifts),
		slog.Int("friendships", report.Friendships),
	)
	return report, nil
}

// ClearAll removes every row the service owns.
func (s *Seeder) ClearAll(ctx context.Context) error {
	tables := []string{"notifications", "activities", "friendships", "ledger_entries", "accounts"}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *Seeder) seedAccounts(ctx context.Context, faker *gofakeit.Faker, n int) ([]string, error) {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		first, last := faker.FirstName(), faker.LastName()
		account, err := s.accounts.CreateAccount(ctx, service.CreateAccountInput{
			ID:             "seed|" + uuid.NewString(),
			Name:           first + " " + last,
			Username:       username(first, last, i),
			EmailVerified:  faker.Bool(),
			InitialBalance: int64(faker.Number(100, 2000)),
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, account.ID)
	}
	return ids, nil
}

func (s *Seeder) seedFriendships(ctx context.Context, faker *gofakeit.Faker, ids []string, opts Options, report *Report) error {
	for _, sender := range ids {
		for j := 0; j < opts.FriendRequests; j++ {
			receiver := pickOther(faker, ids, sender)
			edge, err := s.friends.SendRequest(ctx, sender, receiver)
			if models.HasCode(err, models.CodeAlreadyExists) {
				continue
			}
			if err != nil {
				return err
			}
			report.FriendRequests++

			if faker.Number(1, 100) > opts.AcceptPercent {
				continue
			}
			if _, err := s.friends.Accept(ctx, edge.ID, receiver); err != nil {
				return err
			}
			report.Friendships++
		}
	}
	return nil
}

func (s *Seeder) seedGifts(ctx context.Context, faker *gofakeit.Faker, ids []string, n int, report *Report) error {
	for i := 0; i < n; i++ {
		from := ids[faker.Number(0, len(ids)-1)]
		_, err := s.ledger.Transfer(ctx, service.TransferInput{
			FromID:  from,
			ToID:    pickOther(faker, ids, from),
			Amount:  int64(faker.Number(1, 150)),
			Message: faker.Sentence(faker.Number(2, 8)),
		})
		switch {
		case err == nil:
			report.Gifts++
		case models.HasCode(err, models.CodeInsufficientFunds):
			report.FailedGifts++
		default:
			return err
		}
	}
	return nil
}

func pickOther(faker *gofakeit.Faker, ids []string, not string) string {
	for {
		id := ids[faker.Number(0, len(ids)-1)]
		if id != not {
			return id
		}
	}
}

// username derives a valid, unique handle from a generated name.
func username(first, last string, i int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(first + "." + last) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' {
			b.WriteRune(r)
		}
	}
	base := b.String()
	if len(base) > 24 {
		base = base[:24]
	}
	return fmt.Sprintf("%s%d", base, i)
}
