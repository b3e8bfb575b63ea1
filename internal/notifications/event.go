// Package notifications fans committed state changes out to live subscribers.
package notifications

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType names the kind of change an Event describes.
type EventType string

const (
	EventAccountUpdated      EventType = "account.updated"
	EventLedgerEntry         EventType = "ledger.entry"
	EventNotificationCreated EventType = "notification.created"
	EventFriendshipUpdated   EventType = "friendship.updated"
	// EventResync tells a subscriber it missed events and should re-read state.
	EventResync EventType = "resync"
)

// Event is one change notification addressed to a single account.
type Event struct {
	Type    EventType       `json:"type"`
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// NewEvent encodes payload into an event for userID.
func NewEvent(eventType EventType, userID string, payload interface{}) (Event, error) {
	ev := Event{Type: eventType, UserID: userID, At: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		ev.Payload = raw
	}
	return ev, nil
}

const userChannelPrefix = "events:user:"

// UserChannel derives the Redis channel name for an account.
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// userFromChannel extracts the account id from a user channel name.
func userFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, userChannelPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(channel, userChannelPrefix)
	return id, id != ""
}
