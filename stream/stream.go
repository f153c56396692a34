// Package stream fans per-user live events out over Redis pub/sub.
package stream

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"mind-ease/domain"
)

// ReconnectDelay is the pause before resubscribing after the channel closes.
var ReconnectDelay = time.Second

// Channel is the pub/sub channel carrying userID's events.
func Channel(userID string) string {
	return "user:" + userID
}

// Publisher writes events to their user's channel.
type Publisher struct {
	rc  *redis.Client
	log *log.Entry
}

func NewPublisher(rc *redis.Client, logger *log.Entry) *Publisher {
	if logger == nil {
		logger = log.WithField("component", "stream")
	}
	return &Publisher{rc: rc, log: logger}
}

// Publish sends ev to its user's channel.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.rc.Publish(ctx, Channel(ev.UserID), data).Err(); err != nil {
		p.log.WithError(err).WithFields(log.Fields{"user": ev.UserID, "type": ev.Type}).Error("unable to publish event")
		return err
	}
	return nil
}

// Subscribe delivers userID's events to deliver until ctx is cancelled,
// resubscribing whenever the underlying channel closes. Malformed payloads
// are logged and skipped.
func Subscribe(ctx context.Context, rc *redis.Client, userID string, logger *log.Entry, deliver func(domain.Event)) {
	if logger == nil {
		logger = log.WithField("component", "stream")
	}
	logger = logger.WithField("user", userID)
	for {
		sub := rc.Subscribe(ctx, Channel(userID))
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev domain.Event
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					logger.WithError(err).Error("unable to parse event")
					continue
				}
				deliver(ev)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(ReconnectDelay):
		}
	}
}
