package configmirror

import (
	"context"
	"log/slog"

	"cloud.google.com/go/pubsub"
)

// PubSubHintSubscriber subscribes to the registry's change-hint topic and
// triggers an extra, idempotent refresh on every message. It is optional:
// the poll ticker in mirror.go is the safety net even when this is wired
// up. Grounded on the same cloud.google.com/go/pubsub client/topic
// lifecycle used for publishing CloudEvents elsewhere in this stack;
// here the mirror is a subscriber rather than a publisher.
type PubSubHintSubscriber struct {
	client *pubsub.Client
	sub    *pubsub.Subscription
	logger *slog.Logger
}

// NewPubSubHintSubscriber creates (or reuses) a subscription named
// "<topicID>-configmirror" on the given topic.
func NewPubSubHintSubscriber(ctx context.Context, projectID, topicID string) (*PubSubHintSubscriber, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}

	topic := client.Topic(topicID)
	subID := topicID + "-configmirror"
	sub := client.Subscription(subID)
	ok, err := sub.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	if !ok {
		sub, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
		if err != nil {
			client.Close()
			return nil, err
		}
	}

	return &PubSubHintSubscriber{
		client: client,
		sub:    sub,
		logger: slog.Default().With("component", "configmirror.pubsub"),
	}, nil
}

// Run blocks, delivering every message on the subscription as a refresh
// hint, until ctx is cancelled. Intended to be run in its own goroutine.
func (s *PubSubHintSubscriber) Run(ctx context.Context, mirror *Mirror) {
	err := s.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		msg.Ack()
		mirror.OnPubSubHint(ctx)
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("configmirror: pubsub receive loop ended with error", "error", err)
	}
}

// Close releases the underlying pubsub client.
func (s *PubSubHintSubscriber) Close() error {
	return s.client.Close()
}
