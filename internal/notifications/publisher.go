package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"fetch/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Publisher publishes committed changes. With Redis, events travel over
// per-account channels so every API instance's hub sees them; without it
// they go straight to the local hub.
type Publisher struct {
	rdb *redis.Client
	hub *Hub
}

// NewPublisher creates a Publisher. rdb may be nil.
func NewPublisher(rdb *redis.Client, hub *Hub) *Publisher {
	return &Publisher{rdb: rdb, hub: hub}
}

// Publish sends ev to its account's subscribers.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p.rdb == nil {
		if p.hub != nil {
			p.hub.Deliver(ev)
		}
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.rdb.Publish(ctx, UserChannel(ev.UserID), payload).Err()
}

// Start subscribes to every account channel and forwards decoded events to
// the hub until ctx ends. It returns once the subscription is confirmed.
func (p *Publisher) Start(ctx context.Context) error {
	if p.rdb == nil || p.hub == nil {
		return nil
	}
	sub := p.rdb.PSubscribe(ctx, userChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe to change events: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				p.forward(msg.Channel, msg.Payload)
			}
		}
	}()
	return nil
}

func (p *Publisher) forward(channel, payload string) {
	defer func() {
		if r := recover(); r != nil {
			observability.Logger.Error("panic in change event subscriber",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	userID, ok := userFromChannel(channel)
	if !ok {
		observability.Logger.Warn("invalid change event channel", slog.String("channel", channel))
		return
	}
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		observability.Logger.Warn("undecodable change event",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	ev.UserID = userID
	p.hub.Deliver(ev)
}
