package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

const channelPrefix = "board-updates:"

func channelFor(scope string) string {
	return channelPrefix + scope
}

// RedisFeed publishes change events on a per-scope Redis pub/sub channel so
// every engine instance's sessions observe them. When a journal queue is
// configured, each event is also enqueued there before the publish, giving
// offline consumers (projection rebuilds, audit) a durable at-least-once
// replay source.
type RedisFeed struct {
	client  *redis.Client
	journal *azqueue.QueueClient
	logger  *log.Logger
}

// NewRedisFeed creates a feed over the given Redis client. journal may be
// nil to disable the durable copy.
func NewRedisFeed(client *redis.Client, journal *azqueue.QueueClient, logger *log.Logger) *RedisFeed {
	if logger == nil {
		logger = log.New()
	}
	return &RedisFeed{client: client, journal: journal, logger: logger}
}

func (f *RedisFeed) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if f.journal != nil {
		if _, err := f.journal.EnqueueMessage(ctx, string(data), nil); err != nil {
			f.logger.WithError(err).WithFields(log.Fields{"scope": ev.Scope, "item": ev.Item.ID}).
				Error("event journal enqueue failed")
		}
	}
	if err := f.client.Publish(ctx, channelFor(ev.Scope), data).Err(); err != nil {
		return fmt.Errorf("publish: %w", domain.ErrTransportUnavailable)
	}
	return nil
}

// Subscribe delivers the scope's events to fn from a dedicated goroutine.
// The returned unsubscribe closes the pub/sub connection and waits for the
// pump to drain before returning.
func (f *RedisFeed) Subscribe(ctx context.Context, scope string, fn Handler) (func(), error) {
	sub := f.client.Subscribe(ctx, channelFor(scope))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", domain.ErrTransportUnavailable)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.Channel() {
			var ev domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				f.logger.WithError(err).WithField("scope", scope).Error("unable to parse change event")
				continue
			}
			fn(ev)
		}
	}()

	return func() {
		if err := sub.Close(); err != nil {
			f.logger.WithError(err).WithField("scope", scope).Warn("pubsub close failed")
		}
		<-done
	}, nil
}
