package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Broadcaster fans proctor commands and monitor events out over Redis
// Pub/Sub so every proctord replica can deliver them to its own sockets.
type Broadcaster struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewBroadcaster creates a new Broadcaster.
func NewBroadcaster(rdb *redis.Client, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		rdb: rdb,
		log: log.With().Str("component", "broadcaster").Logger(),
	}
}

// Command publishes cmd to the devices of its session and mirrors it on the
// monitor feed. Delivery is best effort: devices that miss it still pick the
// state up on their next pull.
func (b *Broadcaster) Command(ctx context.Context, cmd model.Command) {
	b.publish(ctx, config.CacheKey.SessionCommandChannel(cmd.SessionID), cmd)
	b.Monitor(ctx, cmd.SessionID, model.MonitorEvent{Type: model.MonitorCommand, Command: &cmd})
}

// Monitor publishes ev on the session's monitor feed.
func (b *Broadcaster) Monitor(ctx context.Context, sessionID string, ev model.MonitorEvent) {
	b.publish(ctx, config.CacheKey.SessionMonitorChannel(sessionID), ev)
}

func (b *Broadcaster) publish(ctx context.Context, channel string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		b.log.Error().Err(err).Str("channel", channel).Msg("Failed to encode broadcast")
		return
	}
	if err := b.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		b.log.Warn().Err(err).Str("channel", channel).Msg("Failed to publish broadcast")
	}
}

// SubscribeCommands opens a subscription to a session's command channel.
func (b *Broadcaster) SubscribeCommands(ctx context.Context, sessionID string) *redis.PubSub {
	return b.rdb.Subscribe(ctx, config.CacheKey.SessionCommandChannel(sessionID))
}

// SubscribeMonitor opens a subscription to a session's monitor feed.
func (b *Broadcaster) SubscribeMonitor(ctx context.Context, sessionID string) *redis.PubSub {
	return b.rdb.Subscribe(ctx, config.CacheKey.SessionMonitorChannel(sessionID))
}
