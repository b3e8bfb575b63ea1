package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fetch/internal/models"
	"fetch/internal/notifications"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFriendRequest_AcceptFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.signup(t, "bob")
	env.signup(t, "alice")

	edge, err := env.friends.SendRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusPending, edge.Status)
	assert.Equal(t, "bob", edge.InitiatedBy)
	assert.Equal(t, "5:alice:bob", edge.ID)
	assert.Equal(t, "User alice", edge.LowName)
	assert.Equal(t, "bob", edge.HighUsername)

	requests := env.notificationsOf(t, "alice", models.NotificationFriendRequest)
	require.Len(t, requests, 1)
	assert.Equal(t, "User bob wants to be your friend", requests[0].Message)

	_, err = env.friends.Accept(ctx, edge.ID, "bob")
	assert.True(t, models.HasCode(err, models.CodeInvalidState), "initiator accept: got %v", err)

	accepted, err := env.friends.Accept(ctx, edge.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.AcceptedAt)

	notes := env.notificationsOf(t, "bob", models.NotificationFriendAccepted)
	require.Len(t, notes, 1)
	assert.Equal(t, "User alice accepted your friend request", notes[0].Message)

	_, err = env.friends.Accept(ctx, edge.ID, "alice")
	assert.True(t, models.HasCode(err, models.CodeInvalidState), "second accept: got %v", err)

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		status, _, err := env.friends.Status(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.Equal(t, models.FriendshipStatusAccepted, status)
	}
	assert.Equal(t, 2, env.events.count(notifications.EventFriendshipUpdated, "alice"))
}

func TestFriendRequest_DuplicateAndCrossed(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.signup(t, "alice")
	env.signup(t, "bob")

	_, err := env.friends.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = env.friends.SendRequest(ctx, "alice", "bob")
	assert.True(t, models.HasCode(err, models.CodeAlreadyExists), "repeat: got %v", err)

	_, err = env.friends.SendRequest(ctx, "bob", "alice")
	assert.True(t, models.HasCode(err, models.CodeAlreadyExists), "crossed: got %v", err)

	assert.Len(t, env.notificationsOf(t, "bob", models.NotificationFriendRequest), 1)
	assert.Empty(t, env.notificationsOf(t, "alice", models.NotificationFriendRequest))
}

func TestFriendRequest_ConcurrentCrossedRequestsLeaveOneEdge(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signup(t, "alice")
	env.signup(t, "bob")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		wg.Add(1)
		go func(i int, from, to string) {
			defer wg.Done()
			_, errs[i] = env.friends.SendRequest(context.Background(), from, to)
		}(i, pair[0], pair[1])
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, models.HasCode(err, models.CodeAlreadyExists), "got %v", err)
	}
	assert.Equal(t, 1, succeeded)

	var count int64
	require.NoError(t, env.db.Model(&models.Friendship{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFriendRequest_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.signup(t, "alice")
	env.signup(t, "bob")
	env.signup(t, "carol")

	_, err := env.friends.SendRequest(ctx, "alice", "alice")
	assert.True(t, models.HasCode(err, models.CodeValidation))

	_, err = env.friends.SendRequest(ctx, "alice", "nobody")
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	_, err = env.friends.Accept(ctx, "5:alice:bob", "bob")
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	edge, err := env.friends.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = env.friends.Accept(ctx, edge.ID, "carol")
	assert.True(t, models.HasCode(err, models.CodeInvalidState), "outsider: got %v", err)
}

func TestFriendRemoveAndBlock(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.signup(t, "alice")
	env.signup(t, "bob")

	require.NoError(t, env.friends.Remove(ctx, "alice", "bob"), "removing a missing edge is not an error")

	_, err := env.friends.Block(ctx, "alice", "bob")
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	_, err = env.friends.SendRequest(ctx, "bob", "alice")
	require.NoError(t, err)

	blocked, err := env.friends.Block(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusBlocked, blocked.Status)

	_, err = env.friends.SendRequest(ctx, "bob", "alice")
	assert.True(t, models.HasCode(err, models.CodeAlreadyExists), "blocked pair cannot re-request")

	status, _, err := env.friends.Status(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusBlocked, status)

	require.NoError(t, env.friends.Remove(ctx, "bob", "alice"))
	status, edge, err := env.friends.Status(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusNone, status)
	assert.Nil(t, edge)
}

func TestFriendEdges_IdsContainingSeparator(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for i, id := range []string{"a:b", "c", "a", "b:c"} {
		_, err := env.accounts.CreateAccount(ctx, CreateAccountInput{
			ID:       id,
			Name:     "User " + id,
			Username: fmt.Sprintf("sep_user%d", i),
		})
		require.NoError(t, err)
	}

	_, err := env.friends.SendRequest(ctx, "a:b", "c")
	require.NoError(t, err)

	status, edge, err := env.friends.Status(ctx, "a", "b:c")
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusNone, status)
	assert.Nil(t, edge)

	other, err := env.friends.SendRequest(ctx, "a", "b:c")
	require.NoError(t, err, "distinct pair gets its own edge")
	assert.Equal(t, "a", other.UserLowID)
	assert.Equal(t, "b:c", other.UserHighID)

	require.NoError(t, env.friends.Remove(ctx, "a", "b:c"))

	status, edge, err = env.friends.Status(ctx, "a:b", "c")
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusPending, status)
	require.NotNil(t, edge)
	assert.Equal(t, "a:b", edge.UserLowID)
	assert.Equal(t, "c", edge.UserHighID)
}

func TestFriendLists(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for _, id := range []string{"alice", "bob", "carol", "dave", "erin"} {
		env.signup(t, id)
	}
	env.setTotalGifted(t, "carol", 40)
	env.setTotalGifted(t, "bob", 40)
	env.setTotalGifted(t, "dave", 90)

	for _, from := range []string{"bob", "carol", "dave"} {
		edge, err := env.friends.SendRequest(ctx, from, "alice")
		require.NoError(t, err)
		_, err = env.friends.Accept(ctx, edge.ID, "alice")
		require.NoError(t, err)
	}
	_, err := env.friends.SendRequest(ctx, "erin", "alice")
	require.NoError(t, err)

	friends, err := env.friends.ListFriends(ctx, "alice")
	require.NoError(t, err)
	ids := make([]string, 0, len(friends))
	for _, f := range friends {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"dave", "bob", "carol"}, ids)

	incoming, err := env.friends.ListPendingIncoming(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, "erin", incoming[0].Account.ID)
	assert.Equal(t, "erin", incoming[0].Friendship.InitiatedBy)

	outgoing, err := env.friends.ListPendingOutgoing(ctx, "erin")
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, "alice", outgoing[0].Account.ID)

	incoming, err = env.friends.ListPendingIncoming(ctx, "erin")
	require.NoError(t, err)
	assert.Empty(t, incoming)
}

type friendRepoStub struct {
	createFn              func(context.Context, *models.Friendship) error
	getByIDFn             func(context.Context, string) (*models.Friendship, error)
	getBetweenFn          func(context.Context, string, string) (*models.Friendship, error)
	acceptFn              func(context.Context, string, string, time.Time) (bool, error)
	blockFn               func(context.Context, string, string) (bool, error)
	deleteFn              func(context.Context, string) error
	listFriendsFn         func(context.Context, string) ([]models.Account, error)
	listPendingIncomingFn func(context.Context, string) ([]models.Friendship, error)
	listPendingOutgoingFn func(context.Context, string) ([]models.Friendship, error)
}

func (s *friendRepoStub) Create(ctx context.Context, f *models.Friendship) error {
	return s.createFn(ctx, f)
}
func (s *friendRepoStub) GetByID(ctx context.Context, id string) (*models.Friendship, error) {
	return s.getByIDFn(ctx, id)
}
func (s *friendRepoStub) GetBetween(ctx context.Context, a, b string) (*models.Friendship, error) {
	return s.getBetweenFn(ctx, a, b)
}
func (s *friendRepoStub) Accept(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	return s.acceptFn(ctx, id, userID, at)
}
func (s *friendRepoStub) Block(ctx context.Context, id, blockerID string) (bool, error) {
	return s.blockFn(ctx, id, blockerID)
}
func (s *friendRepoStub) Delete(ctx context.Context, id string) error {
	return s.deleteFn(ctx, id)
}
func (s *friendRepoStub) ListFriends(ctx context.Context, userID string) ([]models.Account, error) {
	return s.listFriendsFn(ctx, userID)
}
func (s *friendRepoStub) ListPendingIncoming(ctx context.Context, userID string) ([]models.Friendship, error) {
	return s.listPendingIncomingFn(ctx, userID)
}
func (s *friendRepoStub) ListPendingOutgoing(ctx context.Context, userID string) ([]models.Friendship, error) {
	return s.listPendingOutgoingFn(ctx, userID)
}

func noopFriendRepo() *friendRepoStub {
	return &friendRepoStub{
		createFn:              func(context.Context, *models.Friendship) error { return nil },
		getByIDFn:             func(context.Context, string) (*models.Friendship, error) { return &models.Friendship{}, nil },
		getBetweenFn:          func(context.Context, string, string) (*models.Friendship, error) { return nil, nil },
		acceptFn:              func(context.Context, string, string, time.Time) (bool, error) { return false, nil },
		blockFn:               func(context.Context, string, string) (bool, error) { return false, nil },
		deleteFn:              func(context.Context, string) error { return nil },
		listFriendsFn:         func(context.Context, string) ([]models.Account, error) { return nil, nil },
		listPendingIncomingFn: func(context.Context, string) ([]models.Friendship, error) { return nil, nil },
		listPendingOutgoingFn: func(context.Context, string) ([]models.Friendship, error) { return nil, nil },
	}
}

func TestFriendServiceAcceptRejectedStates(t *testing.T) {
	cases := []struct {
		name string
		edge models.Friendship
	}{
		{"already accepted", models.Friendship{UserLowID: "a", UserHighID: "b", InitiatedBy: "a", Status: models.FriendshipStatusAccepted}},
		{"blocked", models.Friendship{UserLowID: "a", UserHighID: "b", InitiatedBy: "a", Status: models.FriendshipStatusBlocked}},
		{"own request", models.Friendship{UserLowID: "a", UserHighID: "b", InitiatedBy: "b", Status: models.FriendshipStatusPending}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := noopFriendRepo()
			edge := tc.edge
			repo.getByIDFn = func(context.Context, string) (*models.Friendship, error) { return &edge, nil }

			svc := NewFriendService(repo, nil, nil, nil)
			_, err := svc.Accept(context.Background(), "a:b", "b")
			assert.True(t, models.HasCode(err, models.CodeInvalidState), "got %v", err)
		})
	}
}

func TestFriendServiceAcceptPropagatesStoreErrors(t *testing.T) {
	repo := noopFriendRepo()
	storeErr := models.NewUnavailableError(errors.New("connection refused"))
	repo.acceptFn = func(context.Context, string, string, time.Time) (bool, error) { return false, storeErr }

	svc := NewFriendService(repo, nil, nil, nil)
	_, err := svc.Accept(context.Background(), "a:b", "b")
	assert.ErrorIs(t, err, storeErr)
}

func TestFriendServiceRemoveUsesCanonicalKey(t *testing.T) {
	repo := noopFriendRepo()
	var deleted string
	repo.deleteFn = func(_ context.Context, id string) error { deleted = id; return nil }

	svc := NewFriendService(repo, nil, nil, nil)
	require.NoError(t, svc.Remove(context.Background(), "zed", "amy"))
	assert.Equal(t, "3:amy:zed", deleted)
}
