package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fetch/internal/cache"
	"fetch/internal/models"
	"fetch/internal/observability"
	"fetch/internal/repository"
)

// TopTen is the leaderboard band whose entrants are notified.
const TopTen = 10

// LeaderboardEntry is one ranked account.
type LeaderboardEntry struct {
	Rank            int    `json:"rank"`
	AccountID       string `json:"account_id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	TotalGifted     int64  `json:"total_gifted"`
	GenerosityLevel string `json:"generosity_level"`
}

// RefreshResult summarizes one rank refresh.
type RefreshResult struct {
	Ranked      int       `json:"ranked"`
	EnteredTop  []string  `json:"entered_top"`
	CompletedAt time.Time `json:"completed_at"`
}

// RankingService orders accounts by lifetime points gifted. Ranks share a
// position on ties: rank = 1 + number of accounts with a strictly greater total.
type RankingService struct {
	accounts repository.AccountRepository
	cache    *cache.Store
	ttl      time.Duration
	notifier Notifier
}

// NewRankingService returns a new RankingService. A zero ttl disables the
// leaderboard cache.
func NewRankingService(accounts repository.AccountRepository, store *cache.Store, ttl time.Duration, notifier Notifier) *RankingService {
	return &RankingService{accounts: accounts, cache: store, ttl: ttl, notifier: notifier}
}

// rank assigns tie-sharing ranks to accounts already in leaderboard order.
func rank(accounts []models.Account) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, len(accounts))
	for i := range accounts {
		a := &accounts[i]
		r := i + 1
		if i > 0 && a.TotalGifted == accounts[i-1].TotalGifted {
			r = entries[i-1].Rank
		}
		entries[i] = LeaderboardEntry{
			Rank:            r,
			AccountID:       a.ID,
			Name:            a.Name,
			Username:        a.Username,
			TotalGifted:     a.TotalGifted,
			GenerosityLevel: a.GenerosityLevel,
		}
	}
	return entries
}

// Leaderboard returns the top accounts by total gifted, ties broken by id.
// Pages are cached briefly and dropped after every committed gift.
func (s *RankingService) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	limit = clampLimit(limit, TopTen, 100)
	var entries []LeaderboardEntry
	err := s.cache.Aside(ctx, cache.LeaderboardKey(limit), &entries, s.ttl, func() error {
		accounts, err := s.accounts.ListForRanking(ctx, limit)
		if err != nil {
			return err
		}
		entries = rank(accounts)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// RankOf computes userID's rank directly from the store.
func (s *RankingService) RankOf(ctx context.Context, userID string) (int, error) {
	if err := models.ValidateAccountID(userID); err != nil {
		return 0, err
	}
	account, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	greater, err := s.accounts.CountGreaterTotalGifted(ctx, account.TotalGifted)
	if err != nil {
		return 0, err
	}
	return int(greater) + 1, nil
}

// RefreshRanks recomputes and stores the cached rank of every account, then
// notifies accounts that entered the top ten.
func (s *RankingService) RefreshRanks(ctx context.Context) (*RefreshResult, error) {
	span, ctx := observability.NewSpan(ctx, "RankingService.RefreshRanks")
	defer span.End()

	accounts, err := s.accounts.ListForRanking(ctx, 0)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	entries := rank(accounts)
	ranks := make(map[string]int, len(entries))
	result := &RefreshResult{Ranked: len(entries)}
	for i, e := range entries {
		ranks[e.AccountID] = e.Rank
		previous := accounts[i].Rank
		if e.Rank <= TopTen && e.TotalGifted > 0 && (previous == 0 || previous > TopTen) {
			result.EnteredTop = append(result.EnteredTop, e.AccountID)
		}
	}
	if err := s.accounts.UpdateRanks(ctx, ranks); err != nil {
		span.SetError(err)
		return nil, err
	}
	result.CompletedAt = time.Now().UTC()

	ctx = afterCommit(ctx)
	for _, id := range result.EnteredTop {
		sendNotification(ctx, s.notifier, NotifyInput{
			RecipientID: id,
			Kind:        models.NotificationLeaderboardChange,
			Title:       "You're in the top 10!",
			Message:     fmt.Sprintf("You are now ranked #%d on the leaderboard", ranks[id]),
		})
	}
	if err := s.cache.InvalidatePrefix(ctx, cache.LeaderboardKeyPrefix); err != nil {
		observability.LogSideEffectFailure(ctx, "leaderboard_invalidate", err)
	}

	observability.Logger.InfoContext(ctx, "ranks refreshed",
		slog.Int("ranked", result.Ranked),
		slog.Int("entered_top", len(result.EnteredTop)),
	)
	return result, nil
}
