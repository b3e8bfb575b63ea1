package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"fetch/internal/cache"
	"fetch/internal/models"
	"fetch/internal/notifications"
	"fetch/internal/observability"
	"fetch/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const failureInsufficientFunds = "insufficient_funds"

// TransferInput is a gift from one account to another.
type TransferInput struct {
	FromID  string `json:"from_id"`
	ToID    string `json:"to_id"`
	Amount  int64  `json:"amount"`
	Message string `json:"message"`
}

// TransferResult is the committed state after a gift.
type TransferResult struct {
	Entry    *models.LedgerEntry `json:"entry"`
	Sender   *models.Account     `json:"sender"`
	Receiver *models.Account     `json:"receiver"`
	// Unlocked maps account id -> achievements this gift unlocked.
	Unlocked map[string][]models.Achievement `json:"-"`
}

// CreditInput is a system-issued credit to one account.
type CreditInput struct {
	AccountID string           `json:"account_id"`
	Kind      models.EntryKind `json:"kind"`
	Amount    int64            `json:"amount"`
	Message   string           `json:"message"`
}

// PenaltyInput is a system-issued debit from one account.
type PenaltyInput struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	Message   string `json:"message"`
}

// PostingResult is the committed state after a single-account posting.
type PostingResult struct {
	Entry   *models.LedgerEntry `json:"entry"`
	Account *models.Account     `json:"account"`
}

// ledgerStores groups the stores a posting writes in one transaction.
type ledgerStores struct {
	accounts   repository.AccountRepository
	ledger     repository.LedgerRepository
	activities repository.ActivityRepository
}

func (s ledgerStores) withTx(tx *gorm.DB) ledgerStores {
	return ledgerStores{
		accounts:   s.accounts.WithTx(tx),
		ledger:     s.ledger.WithTx(tx),
		activities: s.activities.WithTx(tx),
	}
}

type posting struct {
	accountID string
	kind      models.EntryKind
	amount    int64
	message   string
	at        time.Time
}

// post applies a single-account entry: the balance change, the completed
// entry and the owner's feed row. It must run inside a transaction.
func (s ledgerStores) post(ctx context.Context, p posting) (*models.LedgerEntry, *models.Account, error) {
	delta := models.Delta{Balance: p.amount, TotalEarned: p.amount}
	activityKind := models.ActivityEarned
	if p.kind == models.EntryKindPenalty {
		delta = models.Delta{Balance: -p.amount}
		activityKind = models.ActivityDeducted
	}

	account, err := s.accounts.ApplyDelta(ctx, p.accountID, delta)
	if err != nil {
		return nil, nil, err
	}

	completed := p.at
	entry := &models.LedgerEntry{
		Kind:        p.kind,
		ToAccountID: account.ID,
		ToName:      account.Name,
		ToUsername:  account.Username,
		Amount:      p.amount,
		Message:     p.message,
		Status:      models.EntryStatusCompleted,
		CreatedAt:   p.at,
		CompletedAt: &completed,
	}
	if err := s.ledger.Create(ctx, entry); err != nil {
		return nil, nil, err
	}

	if err := s.activities.CreateBatch(ctx, []models.Activity{{
		OwnerID:   account.ID,
		Kind:      activityKind,
		Amount:    p.amount,
		Message:   p.message,
		EntryID:   entry.ID,
		CreatedAt: p.at,
	}}); err != nil {
		return nil, nil, err
	}
	return entry, account, nil
}

// LedgerService moves points. Every balance change is paired with exactly
// one completed ledger entry written in the same transaction.
type LedgerService struct {
	tx       *repository.TxRunner
	stores   ledgerStores
	notifier Notifier
	events   EventPublisher
	cache    *cache.Store
	now      func() time.Time
}

// NewLedgerService returns a new LedgerService. notifier, events and store may be nil.
func NewLedgerService(
	tx *repository.TxRunner,
	accounts repository.AccountRepository,
	ledger repository.LedgerRepository,
	activities repository.ActivityRepository,
	notifier Notifier,
	events EventPublisher,
	store *cache.Store,
) *LedgerService {
	return &LedgerService{
		tx:       tx,
		stores:   ledgerStores{accounts: accounts, ledger: ledger, activities: activities},
		notifier: notifier,
		events:   events,
		cache:    store,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func validateMessage(message string) (string, error) {
	message = strings.TrimSpace(message)
	if len([]rune(message)) > models.MaxMessageLength {
		return "", models.NewValidationError("message is too long")
	}
	return message, nil
}

func validateAmount(amount int64) error {
	if amount <= 0 {
		return models.NewValidationError("amount must be positive")
	}
	return nil
}

// Transfer gifts points from one account to another. The debit is
// conditional on the sender's balance at apply time, so concurrent gifts
// from the same sender can never overdraw it.
func (s *LedgerService) Transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	span, ctx := observability.NewSpan(ctx, "LedgerService.Transfer",
		attribute.String("ledger.from", in.FromID),
		attribute.String("ledger.to", in.ToID),
		attribute.Int64("ledger.amount", in.Amount),
	)
	defer span.End()

	message, err := s.validateTransfer(in)
	if err != nil {
		observability.TransfersTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	var result *TransferResult
	err = s.tx.InTx(ctx, "transfer", func(tx *gorm.DB) error {
		result = nil
		res, err := s.transferInTx(ctx, s.stores.withTx(tx), in.FromID, in.ToID, in.Amount, message)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		span.SetError(err)
		observability.TransfersTotal.WithLabelValues(transferOutcome(err)).Inc()
		if models.HasCode(err, models.CodeInsufficientFunds) {
			s.recordFailedTransfer(afterCommit(ctx), in.FromID, in.ToID, in.Amount, message)
		}
		return nil, err
	}

	observability.TransfersTotal.WithLabelValues("completed").Inc()
	observability.LedgerAmount.WithLabelValues(string(models.EntryKindGift)).Observe(float64(in.Amount))
	span.AddAttributes(attribute.String("ledger.entry_id", result.Entry.ID))

	s.afterTransfer(afterCommit(ctx), result)
	return result, nil
}

func (s *LedgerService) validateTransfer(in TransferInput) (string, error) {
	if err := models.ValidateAccountID(in.FromID); err != nil {
		return "", err
	}
	if err := models.ValidateAccountID(in.ToID); err != nil {
		return "", err
	}
	if in.FromID == in.ToID {
		return "", models.NewValidationError("cannot gift points to yourself")
	}
	if err := validateAmount(in.Amount); err != nil {
		return "", err
	}
	return validateMessage(in.Message)
}

// transferInTx updates both accounts in canonical id order so opposite
// transfers between the same pair lock rows in the same order.
func (s *LedgerService) transferInTx(ctx context.Context, st ledgerStores, fromID, toID string, amount int64, message string) (*TransferResult, error) {
	debit := models.Delta{Balance: -amount, TotalGifted: amount, GiftsGiven: 1, Touch: true}
	credit := models.Delta{Balance: amount, TotalEarned: amount, GiftsReceived: 1}

	var sender, receiver *models.Account
	var err error
	if fromID < toID {
		if sender, err = st.accounts.ApplyDelta(ctx, fromID, debit); err != nil {
			return nil, err
		}
		if receiver, err = st.accounts.ApplyDelta(ctx, toID, credit); err != nil {
			return nil, err
		}
	} else {
		if receiver, err = st.accounts.ApplyDelta(ctx, toID, credit); err != nil {
			return nil, err
		}
		if sender, err = st.accounts.ApplyDelta(ctx, fromID, debit); err != nil {
			return nil, err
		}
	}

	now := s.now()
	completed := now
	entry := &models.LedgerEntry{
		Kind:          models.EntryKindGift,
		FromAccountID: &sender.ID,
		ToAccountID:   receiver.ID,
		Amount:        amount,
		Message:       message,
		Status:        models.EntryStatusCompleted,
		FromName:      sender.Name,
		FromUsername:  sender.Username,
		ToName:        receiver.Name,
		ToUsername:    receiver.Username,
		CreatedAt:     now,
		CompletedAt:   &completed,
	}
	if err := st.ledger.Create(ctx, entry); err != nil {
		return nil, err
	}

	if err := st.activities.CreateBatch(ctx, []models.Activity{
		{
			OwnerID:          sender.ID,
			Kind:             models.ActivitySent,
			CounterpartyID:   &receiver.ID,
			CounterpartyName: receiver.Name,
			Amount:           amount,
			Message:          message,
			EntryID:          entry.ID,
			CreatedAt:        now,
		},
		{
			OwnerID:          receiver.ID,
			Kind:             models.ActivityReceived,
			CounterpartyID:   &sender.ID,
			CounterpartyName: sender.Name,
			Amount:           amount,
			Message:          message,
			EntryID:          entry.ID,
			CreatedAt:        now,
		},
	}); err != nil {
		return nil, err
	}

	result := &TransferResult{Entry: entry, Sender: sender, Receiver: receiver, Unlocked: map[string][]models.Achievement{}}
	for _, account := range []*models.Account{sender, receiver} {
		unlocked := models.NewlyUnlocked(account)
		if len(unlocked) == 0 {
			continue
		}
		codes := append([]string{}, account.Achievements...)
		for _, a := range unlocked {
			codes = append(codes, a.Code)
		}
		if err := st.accounts.SetAchievements(ctx, account.ID, codes); err != nil {
			return nil, err
		}
		account.Achievements = codes
		result.Unlocked[account.ID] = unlocked
	}
	return result, nil
}

func transferOutcome(err error) string {
	switch {
	case models.HasCode(err, models.CodeInsufficientFunds):
		return "insufficient_funds"
	case models.HasCode(err, models.CodeNotFound):
		return "not_found"
	case models.HasCode(err, models.CodeConflict):
		return "conflict"
	case models.HasCode(err, models.CodeUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// recordFailedTransfer keeps an audit row for a rejected gift. It is written
// outside the rolled-back transaction and never affects balances.
func (s *LedgerService) recordFailedTransfer(ctx context.Context, fromID, toID string, amount int64, message string) {
	entry := &models.LedgerEntry{
		Kind:          models.EntryKindGift,
		FromAccountID: &fromID,
		ToAccountID:   toID,
		Amount:        amount,
		Message:       message,
		Status:        models.EntryStatusFailed,
		FailureReason: failureInsufficientFunds,
		CreatedAt:     s.now(),
	}
	if accounts, err := s.stores.accounts.GetByIDs(ctx, []string{fromID, toID}); err == nil {
		if a, ok := accounts[fromID]; ok {
			entry.FromName, entry.FromUsername = a.Name, a.Username
		}
		if a, ok := accounts[toID]; ok {
			entry.ToName, entry.ToUsername = a.Name, a.Username
		}
	}
	if err := s.stores.ledger.Create(ctx, entry); err != nil {
		observability.LogSideEffectFailure(ctx, "failed_entry", err, slog.String("from_id", fromID))
	}
}

func (s *LedgerService) afterTransfer(ctx context.Context, r *TransferResult) {
	sendNotification(ctx, s.notifier, NotifyInput{
		RecipientID:    r.Receiver.ID,
		Kind:           models.NotificationGiftReceived,
		Title:          "You received points!",
		Message:        giftMessage(r),
		RelatedUserID:  r.Sender.ID,
		RelatedEntryID: r.Entry.ID,
	})

	for accountID, unlocked := range r.Unlocked {
		for _, a := range unlocked {
			sendNotification(ctx, s.notifier, NotifyInput{
				RecipientID:    accountID,
				Kind:           models.NotificationAchievementUnlocked,
				Title:          "Achievement unlocked: " + a.Title,
				Message:        "You unlocked the " + a.Title + " achievement.",
				RelatedEntryID: r.Entry.ID,
			})
		}
	}

	for _, account := range []*models.Account{r.Sender, r.Receiver} {
		publishEvent(ctx, s.events, notifications.EventAccountUpdated, account.ID, account)
		publishEvent(ctx, s.events, notifications.EventLedgerEntry, account.ID, r.Entry)
	}

	if err := s.cache.InvalidatePrefix(ctx, cache.LeaderboardKeyPrefix); err != nil {
		observability.LogSideEffectFailure(ctx, "leaderboard_invalidate", err)
	}
}

func giftMessage(r *TransferResult) string {
	text := displayName(r.Sender) + " sent you " + formatPoints(r.Entry.Amount)
	if r.Entry.Message != "" {
		text += ": " + r.Entry.Message
	}
	return text
}

// Credit adds a bonus or earned entry to one account.
func (s *LedgerService) Credit(ctx context.Context, in CreditInput) (*PostingResult, error) {
	if in.Kind != models.EntryKindBonus && in.Kind != models.EntryKindEarned {
		return nil, models.NewValidationError("credit kind must be bonus or earned")
	}
	return s.postSingle(ctx, in.AccountID, in.Kind, in.Amount, in.Message)
}

// Penalize debits one account. It fails with InsufficientFunds rather than
// leaving a negative balance.
func (s *LedgerService) Penalize(ctx context.Context, in PenaltyInput) (*PostingResult, error) {
	return s.postSingle(ctx, in.AccountID, models.EntryKindPenalty, in.Amount, in.Message)
}

func (s *LedgerService) postSingle(ctx context.Context, accountID string, kind models.EntryKind, amount int64, message string) (*PostingResult, error) {
	span, ctx := observability.NewSpan(ctx, "LedgerService.Post",
		attribute.String("ledger.account", accountID),
		attribute.String("ledger.kind", string(kind)),
		attribute.Int64("ledger.amount", amount),
	)
	defer span.End()

	if err := models.ValidateAccountID(accountID); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	message, err := validateMessage(message)
	if err != nil {
		return nil, err
	}

	var result *PostingResult
	err = s.tx.InTx(ctx, string(kind), func(tx *gorm.DB) error {
		entry, account, err := s.stores.withTx(tx).post(ctx, posting{
			accountID: accountID,
			kind:      kind,
			amount:    amount,
			message:   message,
			at:        s.now(),
		})
		if err != nil {
			return err
		}
		result = &PostingResult{Entry: entry, Account: account}
		return nil
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	observability.LedgerAmount.WithLabelValues(string(kind)).Observe(float64(amount))

	ctx = afterCommit(ctx)
	publishEvent(ctx, s.events, notifications.EventAccountUpdated, accountID, result.Account)
	publishEvent(ctx, s.events, notifications.EventLedgerEntry, accountID, result.Entry)
	return result, nil
}

// History returns the newest entries userID sent or received.
func (s *LedgerService) History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	if err := models.ValidateAccountID(userID); err != nil {
		return nil, err
	}
	return s.stores.ledger.History(ctx, userID, clampLimit(limit, 20, 100))
}

// GetEntry returns one entry by id.
func (s *LedgerService) GetEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	return s.stores.ledger.GetByID(ctx, id)
}

// Feed returns userID's activity rows, newest first.
func (s *LedgerService) Feed(ctx context.Context, userID string, limit int) ([]models.Activity, error) {
	if err := models.ValidateAccountID(userID); err != nil {
		return nil, err
	}
	return s.stores.activities.ListByOwner(ctx, userID, clampLimit(limit, 20, 100))
}

// GiftSummary is one account's completed gift totals over a window.
type GiftSummary struct {
	Sent     int64
	Received int64
}

// SummarySince totals userID's completed gifts since a point in time.
func (s *LedgerService) SummarySince(ctx context.Context, userID string, since time.Time) (GiftSummary, error) {
	sent, received, err := s.stores.ledger.SumSince(ctx, userID, since)
	if err != nil {
		return GiftSummary{}, err
	}
	return GiftSummary{Sent: sent, Received: received}, nil
}
