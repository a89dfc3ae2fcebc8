// Package cluster implements the optional cross-instance fan-out described
// in SPEC_FULL.md §3.4: when multiple server processes sit behind the same
// load balancer, a notification produced on one instance must still reach
// clients connected to another. It is disabled by default — a single
// process needs no help relaying to its own connections — and turns on only
// when REDIS_URL is set.
//
// Adapted from the teacher's internal/cache.Cache: same connection pool
// shape and graceful-disable pattern, traded from a key/value cache for a
// pub/sub relay, since coordination fan-out has no notion of TTL or
// eviction — every message is delivered once, to whoever is subscribed at
// the time.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lavamoat/tss-relay/internal/logger"
	"github.com/lavamoat/tss-relay/internal/store"
)

const channel = "tss-relay:notify"

// wireNotification is the subset of store.Notification that survives a trip
// through Redis: connections are process-local (spec.md §3, ConnectionId),
// so Filter/Relay's ConnectionIDs are meaningless on a remote instance.
// Cross-instance fan-out is necessarily group/session-addressed only — a
// Relay notification (direct peer delivery) never crosses instances,
// because its target connection cannot exist on another process.
type wireNotification struct {
	Kind      store.NotifyKind `json:"kind"`
	GroupID   string           `json:"groupId"`
	SessionID string           `json:"sessionId"`
	Event     string           `json:"event"`
	Payload   interface{}      `json:"payload"`
}

// Config configures the Redis connection backing the relay.
type Config struct {
	URL     string
	Enabled bool
}

// Relay publishes notifications to, and receives them from, other server
// instances over Redis pub/sub. A disabled Relay is a no-op on both sides.
type Relay struct {
	client *redis.Client
}

// New connects to Redis when cfg.Enabled, or returns a disabled Relay.
func New(cfg Config) (*Relay, error) {
	if !cfg.Enabled {
		return &Relay{}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	opts.PoolSize = 25
	opts.MinIdleConns = 5
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 8 * time.Millisecond
	opts.MaxRetryBackoff = 512 * time.Millisecond

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Relay{client: client}, nil
}

// Enabled reports whether this Relay actually talks to Redis.
func (r *Relay) Enabled() bool { return r.client != nil }

// Close releases the Redis connection, if any.
func (r *Relay) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Publish broadcasts a group/session notification to every other instance.
// Relay (peer-to-peer) notifications are skipped — see wireNotification's
// doc comment — and publish errors are logged, not returned: a dropped
// cross-instance notification should never take down the connection that
// produced it.
func (r *Relay) Publish(n store.Notification) {
	if r.client == nil || n.Kind == store.NotifyRelay || n.Kind == store.NotifyNoop {
		return
	}
	data, err := json.Marshal(wireNotification{
		Kind:      n.Kind,
		GroupID:   n.GroupID,
		SessionID: n.SessionID,
		Event:     n.Event,
		Payload:   n.Payload,
	})
	if err != nil {
		logger.Cluster().Error().Err(err).Msg("marshal notification for relay")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		logger.Cluster().Error().Err(err).Msg("publish notification to redis")
	}
}

// Subscribe runs until ctx is cancelled, invoking deliver for every
// notification published by another instance. A disabled Relay returns
// immediately. deliver is expected to call into internal/broadcast to fan
// the notification out to this instance's own connections.
func (r *Relay) Subscribe(ctx context.Context, deliver func(store.Notification)) {
	if r.client == nil {
		return
	}
	sub := r.client.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	log := logger.Cluster()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var wn wireNotification
			if err := json.Unmarshal([]byte(msg.Payload), &wn); err != nil {
				log.Error().Err(err).Msg("unmarshal relayed notification")
				continue
			}
			deliver(store.Notification{
				Kind:      wn.Kind,
				GroupID:   wn.GroupID,
				SessionID: wn.SessionID,
				Event:     wn.Event,
				Payload:   wn.Payload,
			})
		}
	}
}
