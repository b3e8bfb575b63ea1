package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"fetch/internal/models"
	"fetch/internal/notifications"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotify_RecordsAndHandsOff(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	n, err := env.notifications.Notify(ctx, NotifyInput{
		RecipientID:   "alice",
		Kind:          models.NotificationWeeklyReport,
		Title:         "  Your week  ",
		Message:       strings.Repeat("m", 600),
		RelatedUserID: "bob",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "Your week", n.Title)
	assert.Len(t, n.Message, 500)
	require.NotNil(t, n.RelatedUserID)
	assert.Equal(t, "bob", *n.RelatedUserID)
	assert.Nil(t, n.RelatedEntryID)

	assert.Equal(t, []string{n.ID}, env.push.delivered)
	assert.Equal(t, 1, env.events.count(notifications.EventNotificationCreated, "alice"))

	count, err := env.notifications.UnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestNotify_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	for name, in := range map[string]NotifyInput{
		"missing recipient": {Kind: models.NotificationWeeklyReport, Title: "t"},
		"unknown kind":      {RecipientID: "alice", Kind: "fireworks", Title: "t"},
		"blank title":       {RecipientID: "alice", Kind: models.NotificationWeeklyReport, Title: "   "},
	} {
		_, err := env.notifications.Notify(context.Background(), in)
		assert.True(t, models.HasCode(err, models.CodeValidation), "%s: got %v", name, err)
	}
	assert.Empty(t, env.push.delivered)
}

func TestNotify_HandoffFailureKeepsRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	env.push.err = errors.New("broker gone")
	env.events.err = errors.New("redis gone")

	n, err := env.notifications.Notify(context.Background(), NotifyInput{
		RecipientID: "alice",
		Kind:        models.NotificationPointsExpiring,
		Title:       "Points expiring",
	})
	require.NoError(t, err)

	list, err := env.notifications.List(context.Background(), "alice", 0, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, n.ID, list[0].ID)
}

func TestNotificationReadFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	var ids []string
	for _, title := range []string{"one", "two", "three"} {
		n, err := env.notifications.Notify(ctx, NotifyInput{RecipientID: "alice", Kind: models.NotificationWeeklyReport, Title: title})
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}

	require.NoError(t, env.notifications.MarkRead(ctx, ids[0], "alice"))
	require.NoError(t, env.notifications.MarkRead(ctx, ids[0], "alice"), "marking twice succeeds")

	err := env.notifications.MarkRead(ctx, ids[1], "bob")
	assert.True(t, models.HasCode(err, models.CodeNotFound), "other recipient: got %v", err)
	err = env.notifications.MarkRead(ctx, "missing", "alice")
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	unread, err := env.notifications.List(ctx, "alice", 10, true)
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	changed, err := env.notifications.MarkAllRead(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)

	count, err := env.notifications.UnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
}
