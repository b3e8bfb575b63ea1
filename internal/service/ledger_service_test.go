package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"fetch/internal/models"
	"fetch/internal/notifications"
	"fetch/internal/repository"
	"fetch/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransfer_GiftMovesPointsExactlyOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	alice := env.signup(t, "alice")
	env.signup(t, "bob")
	assert.Equal(t, int64(500), alice.Balance)
	assert.Equal(t, int64(0), alice.TotalGifted)

	res, err := env.ledger.Transfer(ctx, TransferInput{FromID: "alice", ToID: "bob", Amount: 120, Message: " thanks! "})
	require.NoError(t, err)

	assert.Equal(t, models.EntryStatusCompleted, res.Entry.Status)
	assert.Equal(t, models.EntryKindGift, res.Entry.Kind)
	assert.Equal(t, "thanks!", res.Entry.Message)
	require.NotNil(t, res.Entry.CompletedAt)

	sender := env.account(t, "alice")
	assert.Equal(t, int64(380), sender.Balance)
	assert.Equal(t, int64(120), sender.TotalGifted)
	assert.Equal(t, int64(1), sender.GiftsGiven)
	assert.Equal(t, int64(120), sender.GenerosityScore)
	assert.Equal(t, models.LevelGiver, sender.GenerosityLevel)
	assert.Contains(t, []string(sender.Achievements), models.AchievementFirstGift)

	receiver := env.account(t, "bob")
	assert.Equal(t, int64(620), receiver.Balance)
	assert.Equal(t, int64(620), receiver.TotalEarned)
	assert.Equal(t, int64(1), receiver.GiftsReceived)
	assert.Equal(t, int64(0), receiver.TotalGifted)
	assert.Contains(t, []string(receiver.Achievements), models.AchievementFirstReceipt)

	gifts := env.notificationsOf(t, "bob", models.NotificationGiftReceived)
	require.Len(t, gifts, 1)
	assert.Equal(t, "User alice sent you 120 points: thanks!", gifts[0].Message)
	require.NotNil(t, gifts[0].RelatedEntryID)
	assert.Equal(t, res.Entry.ID, *gifts[0].RelatedEntryID)
	assert.Len(t, env.notificationsOf(t, "alice", models.NotificationAchievementUnlocked), 1)
	assert.Len(t, env.notificationsOf(t, "bob", models.NotificationAchievementUnlocked), 1)

	assert.Equal(t, 1, env.events.count(notifications.EventLedgerEntry, "alice"))
	assert.Equal(t, 1, env.events.count(notifications.EventLedgerEntry, "bob"))

	feed, err := env.ledger.Feed(ctx, "bob", 0)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, models.ActivityReceived, feed[0].Kind)
	assert.Equal(t, models.ActivityEarned, feed[1].Kind)
}

func TestTransfer_InsufficientFundsChangesNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	testutil.SeedAccount(t, env.db, "carol", 50)
	testutil.SeedAccount(t, env.db, "dave", 10)

	_, err := env.ledger.Transfer(context.Background(), TransferInput{FromID: "carol", ToID: "dave", Amount: 100})
	assert.True(t, models.HasCode(err, models.CodeInsufficientFunds), "got %v", err)

	assert.Equal(t, int64(50), testutil.Balance(t, env.db, "carol"))
	assert.Equal(t, int64(10), testutil.Balance(t, env.db, "dave"))
	assert.Empty(t, env.entries(t, models.EntryStatusCompleted))

	failed := env.entries(t, models.EntryStatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "insufficient_funds", failed[0].FailureReason)
	assert.Nil(t, failed[0].CompletedAt)
	assert.Empty(t, env.notificationsOf(t, "dave", models.NotificationGiftReceived))
}

func TestTransfer_ReceiverFirstInCanonicalOrderStillRollsBack(t *testing.T) {
	env := newTestEnv(t, nil)
	// "a-receiver" sorts first, so it is credited before the debit fails.
	testutil.SeedAccount(t, env.db, "z-sender", 5)
	testutil.SeedAccount(t, env.db, "a-receiver", 0)

	_, err := env.ledger.Transfer(context.Background(), TransferInput{FromID: "z-sender", ToID: "a-receiver", Amount: 6})
	assert.True(t, models.HasCode(err, models.CodeInsufficientFunds))
	assert.Equal(t, int64(0), testutil.Balance(t, env.db, "a-receiver"))
	assert.Equal(t, int64(0), env.account(t, "a-receiver").GiftsReceived)
}

func TestTransfer_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signup(t, "alice")

	cases := []struct {
		name string
		in   TransferInput
		code string
	}{
		{"self", TransferInput{FromID: "alice", ToID: "alice", Amount: 1}, models.CodeValidation},
		{"zero", TransferInput{FromID: "alice", ToID: "bob", Amount: 0}, models.CodeValidation},
		{"negative", TransferInput{FromID: "alice", ToID: "bob", Amount: -5}, models.CodeValidation},
		{"blank sender", TransferInput{FromID: "", ToID: "bob", Amount: 1}, models.CodeValidation},
		{"whitespace id", TransferInput{FromID: "alice", ToID: "b ob", Amount: 1}, models.CodeValidation},
		{"long message", TransferInput{FromID: "alice", ToID: "bob", Amount: 1, Message: strings.Repeat("x", 281)}, models.CodeValidation},
		{"missing receiver", TransferInput{FromID: "alice", ToID: "nobody", Amount: 1}, models.CodeNotFound},
		{"missing sender", TransferInput{FromID: "ghost", ToID: "alice", Amount: 1}, models.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.ledger.Transfer(context.Background(), tc.in)
			assert.True(t, models.HasCode(err, tc.code), "got %v", err)
		})
	}
	assert.Equal(t, int64(500), testutil.Balance(t, env.db, "alice"))
}

func TestTransfer_ConcurrentOverdrawAttempts(t *testing.T) {
	env := newTestEnv(t, nil)
	testutil.SeedAccount(t, env.db, "alice", 500)
	testutil.SeedAccount(t, env.db, "bob", 0)

	const attempts = 20
	var ok, insufficient int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.Transfer(context.Background(), TransferInput{FromID: "alice", ToID: "bob", Amount: 60})
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case models.HasCode(err, models.CodeInsufficientFunds):
				atomic.AddInt32(&insufficient, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), ok)
	assert.Equal(t, int32(12), insufficient)
	assert.Equal(t, int64(20), testutil.Balance(t, env.db, "alice"))
	assert.Equal(t, int64(480), testutil.Balance(t, env.db, "bob"))
	assert.Len(t, env.entries(t, models.EntryStatusCompleted), 8)

	sender := env.account(t, "alice")
	assert.Equal(t, int64(480), sender.TotalGifted)
	assert.Equal(t, int64(8), sender.GiftsGiven)
}

func TestTransfer_OppositeDirectionsConserveTotal(t *testing.T) {
	env := newTestEnv(t, nil)
	testutil.SeedAccount(t, env.db, "alice", 100)
	testutil.SeedAccount(t, env.db, "bob", 100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = env.ledger.Transfer(context.Background(), TransferInput{FromID: "alice", ToID: "bob", Amount: 15})
		}()
		go func() {
			defer wg.Done()
			_, _ = env.ledger.Transfer(context.Background(), TransferInput{FromID: "bob", ToID: "alice", Amount: 15})
		}()
	}
	wg.Wait()

	a, b := env.account(t, "alice"), env.account(t, "bob")
	assert.Equal(t, int64(200), a.Balance+b.Balance)
	assert.GreaterOrEqual(t, a.Balance, int64(0))
	assert.GreaterOrEqual(t, b.Balance, int64(0))

	completed := int64(len(env.entries(t, models.EntryStatusCompleted)))
	assert.Equal(t, completed, a.GiftsGiven+b.GiftsGiven)
	assert.Equal(t, completed, a.GiftsReceived+b.GiftsReceived)
	assert.Equal(t, completed*15, a.TotalGifted+b.TotalGifted)
}

func TestTransfer_SideEffectFailuresDoNotUnwind(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedAccount(t, db, "alice", 100)
	testutil.SeedAccount(t, db, "bob", 0)

	svc := NewLedgerService(
		repository.NewTxRunner(db, 0),
		repository.NewAccountRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewActivityRepository(db),
		failingNotifier{},
		&recordingPublisher{err: errors.New("redis down")},
		nil,
	)

	res, err := svc.Transfer(context.Background(), TransferInput{FromID: "alice", ToID: "bob", Amount: 30})
	require.NoError(t, err)
	assert.Equal(t, int64(70), res.Sender.Balance)
	assert.Equal(t, int64(70), testutil.Balance(t, db, "alice"))
	assert.Equal(t, int64(30), testutil.Balance(t, db, "bob"))
}

func TestTransfer_SnapshotsAreNotRefreshed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signup(t, "alice")
	env.signup(t, "bob")

	res, err := env.ledger.Transfer(context.Background(), TransferInput{FromID: "alice", ToID: "bob", Amount: 5})
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&models.Account{}).Where("id = ?", "alice").Update("name", "Alice Renamed").Error)

	entry, err := env.ledger.GetEntry(context.Background(), res.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "User alice", entry.FromName)
	assert.Equal(t, "alice", entry.FromUsername)
	assert.Equal(t, "User bob", entry.ToName)
}

func TestCreditAndPenalize(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	testutil.SeedAccount(t, env.db, "alice", 40)

	res, err := env.ledger.Credit(ctx, CreditInput{AccountID: "alice", Kind: models.EntryKindBonus, Amount: 50, Message: "Weekly bonus earned"})
	require.NoError(t, err)
	assert.Equal(t, int64(90), res.Account.Balance)
	assert.Equal(t, int64(50), res.Account.TotalEarned)
	assert.Nil(t, res.Entry.FromAccountID)
	assert.Equal(t, "alice", res.Entry.ToAccountID)

	_, err = env.ledger.Credit(ctx, CreditInput{AccountID: "alice", Kind: models.EntryKindGift, Amount: 5})
	assert.True(t, models.HasCode(err, models.CodeValidation))

	_, err = env.ledger.Penalize(ctx, PenaltyInput{AccountID: "alice", Amount: 91})
	assert.True(t, models.HasCode(err, models.CodeInsufficientFunds))
	assert.Equal(t, int64(90), testutil.Balance(t, env.db, "alice"))

	res, err = env.ledger.Penalize(ctx, PenaltyInput{AccountID: "alice", Amount: 90, Message: "chargeback"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Account.Balance)
	assert.Equal(t, int64(50), res.Account.TotalEarned)
	assert.Equal(t, models.EntryKindPenalty, res.Entry.Kind)

	feed, err := env.ledger.Feed(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, models.ActivityDeducted, feed[0].Kind)

	_, err = env.ledger.Credit(ctx, CreditInput{AccountID: "ghost", Kind: models.EntryKindEarned, Amount: 1})
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestHistory_IncludesBothDirectionsNewestFirst(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.signup(t, "alice")
	env.signup(t, "bob")

	_, err := env.ledger.Transfer(ctx, TransferInput{FromID: "alice", ToID: "bob", Amount: 10})
	require.NoError(t, err)
	_, err = env.ledger.Transfer(ctx, TransferInput{FromID: "bob", ToID: "alice", Amount: 3})
	require.NoError(t, err)

	history, err := env.ledger.History(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(3), history[0].Amount)
	assert.Equal(t, int64(10), history[1].Amount)
	assert.Equal(t, models.EntryKindBonus, history[2].Kind)

	history, err = env.ledger.History(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
