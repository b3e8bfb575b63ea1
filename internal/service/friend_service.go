package service

import (
	"context"
	"time"

	"fetch/internal/models"
	"fetch/internal/notifications"
	"fetch/internal/observability"
	"fetch/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// FriendService provides friend-request and friendship business logic.
type FriendService struct {
	friends  repository.FriendRepository
	accounts repository.AccountRepository
	notifier Notifier
	events   EventPublisher
	now      func() time.Time
}

// NewFriendService returns a new FriendService. notifier and events may be nil.
func NewFriendService(
	friends repository.FriendRepository,
	accounts repository.AccountRepository,
	notifier Notifier,
	events EventPublisher,
) *FriendService {
	return &FriendService{
		friends:  friends,
		accounts: accounts,
		notifier: notifier,
		events:   events,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func validatePair(a, b string) error {
	if err := models.ValidateAccountID(a); err != nil {
		return err
	}
	if err := models.ValidateAccountID(b); err != nil {
		return err
	}
	if a == b {
		return models.NewValidationError("cannot befriend yourself")
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, code := range []string{
		models.CodeAlreadyExists, models.CodeNotFound, models.CodeInvalidState, models.CodeValidation,
	} {
		if models.HasCode(err, code) {
			return code
		}
	}
	return "error"
}

// SendRequest creates a pending edge initiated by senderID. Any existing edge
// for the pair, whichever side created it and whatever its status, makes this
// fail with AlreadyExists.
func (s *FriendService) SendRequest(ctx context.Context, senderID, receiverID string) (edge *models.Friendship, err error) {
	span, ctx := observability.NewSpan(ctx, "FriendService.SendRequest",
		attribute.String("friend.sender", senderID),
		attribute.String("friend.receiver", receiverID),
	)
	defer func() {
		span.SetError(err)
		span.End()
		observability.FriendRequestsTotal.WithLabelValues("send", outcome(err)).Inc()
	}()

	if err := validatePair(senderID, receiverID); err != nil {
		return nil, err
	}

	accounts, err := s.accounts.GetByIDs(ctx, []string{senderID, receiverID})
	if err != nil {
		return nil, err
	}
	sender, ok := accounts[senderID]
	if !ok {
		return nil, models.NewNotFoundError("Account", senderID)
	}
	receiver, ok := accounts[receiverID]
	if !ok {
		return nil, models.NewNotFoundError("Account", receiverID)
	}

	edge = &models.Friendship{
		UserLowID:   senderID,
		UserHighID:  receiverID,
		Status:      models.FriendshipStatusPending,
		InitiatedBy: senderID,
		CreatedAt:   s.now(),
	}
	edge.UserLowID, edge.UserHighID = models.CanonicalPair(senderID, receiverID)
	low, high := sender, receiver
	if edge.UserLowID != senderID {
		low, high = receiver, sender
	}
	edge.LowName, edge.LowUsername = low.Name, low.Username
	edge.HighName, edge.HighUsername = high.Name, high.Username

	if err := s.friends.Create(ctx, edge); err != nil {
		return nil, err
	}

	ctx = afterCommit(ctx)
	sendNotification(ctx, s.notifier, NotifyInput{
		RecipientID:         receiverID,
		Kind:                models.NotificationFriendRequest,
		Title:               "New friend request",
		Message:             displayName(sender) + " wants to be your friend",
		RelatedUserID:       senderID,
		RelatedFriendshipID: edge.ID,
	})
	s.publishEdge(ctx, edge)
	return edge, nil
}

// Accept moves a pending edge to accepted. Only the side that did not send
// the request may accept it; every other caller or state is InvalidState.
func (s *FriendService) Accept(ctx context.Context, edgeID, acceptingUserID string) (edge *models.Friendship, err error) {
	span, ctx := observability.NewSpan(ctx, "FriendService.Accept",
		attribute.String("friend.edge", edgeID),
		attribute.String("friend.accepting", acceptingUserID),
	)
	defer func() {
		span.SetError(err)
		span.End()
		observability.FriendRequestsTotal.WithLabelValues("accept", outcome(err)).Inc()
	}()

	if err := models.ValidateAccountID(acceptingUserID); err != nil {
		return nil, err
	}

	ok, err := s.friends.Accept(ctx, edgeID, acceptingUserID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.friends.GetByID(ctx, edgeID)
		if err != nil {
			return nil, err
		}
		switch {
		case current.Status != models.FriendshipStatusPending:
			return nil, models.NewInvalidStateError("friend request is not pending")
		case current.InitiatedBy == acceptingUserID:
			return nil, models.NewInvalidStateError("cannot accept your own friend request")
		default:
			return nil, models.NewInvalidStateError("friend request is not addressed to you")
		}
	}

	edge, err = s.friends.GetByID(ctx, edgeID)
	if err != nil {
		return nil, err
	}

	ctx = afterCommit(ctx)
	name := edge.LowName
	if edge.UserLowID != acceptingUserID {
		name = edge.HighName
	}
	sendNotification(ctx, s.notifier, NotifyInput{
		RecipientID:         edge.InitiatedBy,
		Kind:                models.NotificationFriendAccepted,
		Title:               "Friend request accepted",
		Message:             name + " accepted your friend request",
		RelatedUserID:       acceptingUserID,
		RelatedFriendshipID: edge.ID,
	})
	s.publishEdge(ctx, edge)
	return edge, nil
}

// Remove deletes the pair's edge whatever its status. Removing a missing
// edge succeeds.
func (s *FriendService) Remove(ctx context.Context, userA, userB string) (err error) {
	defer func() {
		observability.FriendRequestsTotal.WithLabelValues("remove", outcome(err)).Inc()
	}()
	if err := validatePair(userA, userB); err != nil {
		return err
	}
	if err := s.friends.Delete(ctx, models.PairKey(userA, userB)); err != nil {
		return err
	}

	ctx = afterCommit(ctx)
	payload := map[string]string{"id": models.PairKey(userA, userB), "status": string(models.FriendshipStatusNone)}
	publishEvent(ctx, s.events, notifications.EventFriendshipUpdated, userA, payload)
	publishEvent(ctx, s.events, notifications.EventFriendshipUpdated, userB, payload)
	return nil
}

// Block marks the pair's existing edge blocked by blockerID. A blocked edge
// keeps its key, so neither side can send a new request until it is removed.
func (s *FriendService) Block(ctx context.Context, blockerID, otherID string) (edge *models.Friendship, err error) {
	defer func() {
		observability.FriendRequestsTotal.WithLabelValues("block", outcome(err)).Inc()
	}()
	if err := validatePair(blockerID, otherID); err != nil {
		return nil, err
	}
	id := models.PairKey(blockerID, otherID)
	ok, err := s.friends.Block(ctx, id, blockerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewNotFoundError("Friendship", id)
	}
	edge, err = s.friends.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publishEdge(afterCommit(ctx), edge)
	return edge, nil
}

// Status reports the pair's edge status, the same from either side.
func (s *FriendService) Status(ctx context.Context, userA, userB string) (models.FriendshipStatus, *models.Friendship, error) {
	if err := validatePair(userA, userB); err != nil {
		return "", nil, err
	}
	edge, err := s.friends.GetBetween(ctx, userA, userB)
	if err != nil {
		return "", nil, err
	}
	if edge == nil {
		return models.FriendshipStatusNone, nil, nil
	}
	return edge.Status, edge, nil
}

// ListFriends returns accepted friends in leaderboard order.
func (s *FriendService) ListFriends(ctx context.Context, userID string) ([]models.Account, error) {
	if err := models.ValidateAccountID(userID); err != nil {
		return nil, err
	}
	return s.friends.ListFriends(ctx, userID)
}

// ListPendingIncoming returns requests awaiting userID's answer, each paired
// with the sender's current account.
func (s *FriendService) ListPendingIncoming(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	if err := models.ValidateAccountID(userID); err != nil {
		return nil, err
	}
	edges, err := s.friends.ListPendingIncoming(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.pairWithAccounts(ctx, edges, func(e *models.Friendship) string { return e.InitiatedBy })
}

// ListPendingOutgoing returns requests userID sent that are still pending,
// each paired with the recipient's current account.
func (s *FriendService) ListPendingOutgoing(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	if err := models.ValidateAccountID(userID); err != nil {
		return nil, err
	}
	edges, err := s.friends.ListPendingOutgoing(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.pairWithAccounts(ctx, edges, func(e *models.Friendship) string { return e.Recipient() })
}

// pairWithAccounts drops edges whose counterpart account no longer exists.
func (s *FriendService) pairWithAccounts(ctx context.Context, edges []models.Friendship, counterpart func(*models.Friendship) string) ([]models.FriendRequest, error) {
	ids := make([]string, 0, len(edges))
	for i := range edges {
		ids = append(ids, counterpart(&edges[i]))
	}
	accounts, err := s.accounts.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]models.FriendRequest, 0, len(edges))
	for i := range edges {
		account, ok := accounts[counterpart(&edges[i])]
		if !ok {
			continue
		}
		out = append(out, models.FriendRequest{Friendship: edges[i], Account: *account})
	}
	return out, nil
}

func (s *FriendService) publishEdge(ctx context.Context, edge *models.Friendship) {
	publishEvent(ctx, s.events, notifications.EventFriendshipUpdated, edge.UserLowID, edge)
	publishEvent(ctx, s.events, notifications.EventFriendshipUpdated, edge.UserHighID, edge)
}

func displayName(a *models.Account) string {
	if a.Name != "" {
		return a.Name
	}
	return a.Username
}
