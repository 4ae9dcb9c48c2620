// Package notify delivers server-side change pings over redis pub/sub. The
// contract is at-least-once with no payload: a handler must re-fetch whatever
// it cares about.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelOrdersUpdated is published by the server whenever any order changes.
const ChannelOrdersUpdated = "orders_updated"

type Notifier struct {
	client *redis.Client
	log    *zap.Logger
}

func New(addr, password string, db int, log *zap.Logger) (*Notifier, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Redis connected successfully", zap.String("addr", addr))

	return &Notifier{client: rdb, log: log}, nil
}

func (n *Notifier) Close() error {
	return n.client.Close()
}

// Subscribe runs handler for every message on the channel until the returned
// unsubscribe func is called or ctx is cancelled. The message payload is
// deliberately ignored.
func (n *Notifier) Subscribe(ctx context.Context, channel string, handler func()) (func(), error) {
	sub := n.client.Subscribe(ctx, channel)
	// Confirm the subscription before handing control back, so no ping
	// published after Subscribe returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	msgs := sub.Channel()
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				n.log.Debug("change notification received", zap.String("channel", channel))
				handler()
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			if err := sub.Close(); err != nil {
				n.log.Warn("closing subscription", zap.Error(err))
			}
		})
	}
	return unsubscribe, nil
}
