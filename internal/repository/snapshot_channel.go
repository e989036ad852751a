package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/clinic-queue-api/internal/models"
)

// SnapshotChannel relays queue snapshots between API instances over Redis Pub/Sub.
type SnapshotChannel struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
}

// NewSnapshotChannel constructs the channel wrapper.
func NewSnapshotChannel(client redis.UniversalClient, channel string, logger *zap.Logger) *SnapshotChannel {
	if channel == "" {
		channel = "queue:snapshots"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotChannel{client: client, channel: channel, logger: logger}
}

// Publish sends one snapshot to every listening instance.
func (c *SnapshotChannel) Publish(ctx context.Context, snapshot models.QueueSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", c.channel, err)
	}
	return nil
}

// Listen delivers received snapshots to handle until ctx is cancelled.
func (c *SnapshotChannel) Listen(ctx context.Context, handle func(models.QueueSnapshot)) error {
	pubsub := c.client.Subscribe(ctx, c.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", c.channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var snapshot models.QueueSnapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snapshot); err != nil {
				c.logger.Warn("discarding malformed snapshot", zap.Error(err))
				continue
			}
			handle(snapshot)
		}
	}
}
