package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fetch/internal/cache"
	"fetch/internal/delivery"
	"fetch/internal/models"
	"fetch/internal/notifications"
	"fetch/internal/repository"
	"fetch/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notifications.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev notifications.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count(eventType notifications.EventType, userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == eventType && ev.UserID == userID {
			n++
		}
	}
	return n
}

type recordingHandoff struct {
	mu        sync.Mutex
	delivered []string
	err       error
}

func (h *recordingHandoff) Deliver(_ context.Context, n *models.Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.delivered = append(h.delivered, n.ID)
	return nil
}

func (h *recordingHandoff) Close() error { return nil }

var _ delivery.Handoff = (*recordingHandoff)(nil)

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, NotifyInput) (*models.Notification, error) {
	return nil, errors.New("notification store down")
}

// testEnv wires every service over one sqlite database.
type testEnv struct {
	db            *gorm.DB
	accountsRepo  repository.AccountRepository
	ledgerRepo    repository.LedgerRepository
	notifRepo     repository.NotificationRepository
	events        *recordingPublisher
	push          *recordingHandoff
	notifications *NotificationService
	accounts      *AccountService
	ledger        *LedgerService
	friends       *FriendService
	ranking       *RankingService
}

func newTestEnv(t *testing.T, store *cache.Store) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)

	accountsRepo := repository.NewAccountRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	friendRepo := repository.NewFriendRepository(db)
	notifRepo := repository.NewNotificationRepository(db)
	runner := repository.NewTxRunner(db, 2*time.Second)

	events := &recordingPublisher{}
	push := &recordingHandoff{}
	notifier := NewNotificationService(notifRepo, events, push)

	return &testEnv{
		db:            db,
		accountsRepo:  accountsRepo,
		ledgerRepo:    ledgerRepo,
		notifRepo:     notifRepo,
		events:        events,
		push:          push,
		notifications: notifier,
		accounts:      NewAccountService(runner, accountsRepo, ledgerRepo, activityRepo, notifications.NewHub(8), events, 0),
		ledger:        NewLedgerService(runner, accountsRepo, ledgerRepo, activityRepo, notifier, events, store),
		friends:       NewFriendService(friendRepo, accountsRepo, notifier, events),
		ranking:       NewRankingService(accountsRepo, store, time.Minute, notifier),
	}
}

func (e *testEnv) signup(t *testing.T, id string) *models.Account {
	t.Helper()
	account, err := e.accounts.CreateAccount(context.Background(), CreateAccountInput{
		ID:       id,
		Name:     "User " + id,
		Username: id,
	})
	require.NoError(t, err)
	return account
}

func (e *testEnv) account(t *testing.T, id string) *models.Account {
	t.Helper()
	a, err := e.accountsRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (e *testEnv) setTotalGifted(t *testing.T, id string, total int64) {
	t.Helper()
	require.NoError(t, e.db.Model(&models.Account{}).Where("id = ?", id).UpdateColumn("total_gifted", total).Error)
}

func (e *testEnv) entries(t *testing.T, status models.EntryStatus) []models.LedgerEntry {
	t.Helper()
	var out []models.LedgerEntry
	require.NoError(t, e.db.Where("kind = ? AND status = ?", models.EntryKindGift, status).Find(&out).Error)
	return out
}

func (e *testEnv) notificationsOf(t *testing.T, userID string, kind models.NotificationKind) []models.Notification {
	t.Helper()
	var out []models.Notification
	require.NoError(t, e.db.Where("recipient_id = ? AND kind = ?", userID, kind).Find(&out).Error)
	return out
}
