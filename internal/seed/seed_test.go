package seed

import (
	"context"
	"testing"

	"fetch/internal/models"
	"fetch/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeederRun(t *testing.T) {
	db := testutil.NewDB(t)
	s := New(db)

	report, err := s.Run(context.Background(), Options{
		NumAccounts:    8,
		NumGifts:       40,
		FriendRequests: 2,
		AcceptPercent:  50,
		RandSeed:       42,
	})
	require.NoError(t, err)

	assert.Equal(t, 8, report.Accounts)
	assert.Equal(t, 40, report.Gifts+report.FailedGifts)
	assert.LessOrEqual(t, report.Friendships, report.FriendRequests)

	var accounts []models.Account
	require.NoError(t, db.Find(&accounts).Error)
	require.Len(t, accounts, 8)

	var balances, earned, gifted int64
	for _, a := range accounts {
		assert.GreaterOrEqual(t, a.Balance, int64(0))
		assert.NoError(t, models.ValidateUsername(a.Username))
		balances += a.Balance
		earned += a.TotalEarned
		gifted += a.TotalGifted
	}
	assert.Equal(t, earned-gifted, balances, "points are only created by credits")

	var completed int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).
		Where("kind = ? AND status = ?", models.EntryKindGift, models.EntryStatusCompleted).
		Count(&completed).Error)
	assert.Equal(t, int64(report.Gifts), completed)

	var accepted int64
	require.NoError(t, db.Model(&models.Friendship{}).
		Where("status = ?", models.FriendshipStatusAccepted).Count(&accepted).Error)
	assert.Equal(t, int64(report.Friendships), accepted)
}

func TestSeederCleanRerun(t *testing.T) {
	db := testutil.NewDB(t)
	s := New(db)
	opts := Options{NumAccounts: 3, NumGifts: 5, RandSeed: 7, ShouldClean: true}

	_, err := s.Run(context.Background(), opts)
	require.NoError(t, err)
	_, err = s.Run(context.Background(), opts)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Account{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestSeederSingleAccount(t *testing.T) {
	db := testutil.NewDB(t)

	report, err := New(db).Run(context.Background(), Options{NumAccounts: 1, NumGifts: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accounts)
	assert.Zero(t, report.Gifts)
}

func TestUsername(t *testing.T) {
	tests := []struct {
		first, last string
		i           int
		want        string
	}{
		{"Mary", "Smith", 0, "mary.smith0"},
		{"Anne-Marie", "O'Neil", 12, "annemarie.oneil12"},
		{"Bartholomew", "Christodoulopoulos", 3, "bartholomew.christodoulo3"},
	}
	for _, tt := range tests {
		got := username(tt.first, tt.last, tt.i)
		assert.Equal(t, tt.want, got)
		assert.NoError(t, models.ValidateUsername(got))
	}
}
