package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InvalidationChannel is the cluster-wide pub/sub channel carrying
// flow-cache invalidations.
const InvalidationChannel = "botflow:flows:invalidate"

// Invalidation is the explicit cross-node cache message. Exactly one of
// Flow / RenameTo may be set: Flow replaces the entry in place, RenameTo
// re-keys it, neither removes it.
type Invalidation struct {
	Origin   string          `json:"origin"`
	BotID    string          `json:"botId"`
	Key      string          `json:"key"`
	Flow     json.RawMessage `json:"flow,omitempty"`
	RenameTo string          `json:"renameTo,omitempty"`
}

// Broadcaster distributes invalidations to every node of the cluster.
type Broadcaster interface {
	// Publish sends an invalidation cluster-wide, including back to the
	// publishing node's subscriber (which skips it by origin).
	Publish(ctx context.Context, inv Invalidation) error

	// Subscribe registers the handler invoked for every invalidation
	// published by other nodes. Subscribe returns after the
	// subscription is active; the handler runs on a background
	// goroutine until ctx is canceled.
	Subscribe(ctx context.Context, handler func(Invalidation)) error

	// Origin identifies this node; self-published messages are skipped
	// on receipt.
	Origin() string
}

// RedisBroadcaster implements Broadcaster over Redis pub/sub.
type RedisBroadcaster struct {
	client *redis.Client
	origin string
	logger *zap.Logger
}

// NewRedisBroadcaster returns a broadcaster using the given client.
func NewRedisBroadcaster(client *redis.Client, logger *zap.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		client: client,
		origin: uuid.New().String(),
		logger: logger.With(zap.String("component", "flow_broadcaster")),
	}
}

// Origin implements Broadcaster.
func (b *RedisBroadcaster) Origin() string { return b.origin }

// Publish implements Broadcaster.
func (b *RedisBroadcaster) Publish(ctx context.Context, inv Invalidation) error {
	inv.Origin = b.origin
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshaling invalidation: %w", err)
	}
	if err := b.client.Publish(ctx, InvalidationChannel, data).Err(); err != nil {
		return fmt.Errorf("publishing invalidation: %w", err)
	}
	return nil
}

// Subscribe implements Broadcaster.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, handler func(Invalidation)) error {
	sub := b.client.Subscribe(ctx, InvalidationChannel)
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", InvalidationChannel, err)
	}

	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv Invalidation
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					b.logger.Error("dropping malformed invalidation", zap.Error(err))
					continue
				}
				if inv.Origin == b.origin {
					continue
				}
				handler(inv)
			}
		}
	}()
	return nil
}

// NopBroadcaster is a single-node Broadcaster that publishes nowhere.
type NopBroadcaster struct{}

// Publish implements Broadcaster.
func (NopBroadcaster) Publish(context.Context, Invalidation) error { return nil }

// Subscribe implements Broadcaster.
func (NopBroadcaster) Subscribe(context.Context, func(Invalidation)) error { return nil }

// Origin implements Broadcaster.
func (NopBroadcaster) Origin() string { return "local" }
