package signal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/model"
)

// RedisConfig configures the Redis Streams bus.
type RedisConfig struct {
	Stream   string        `yaml:"stream" mapstructure:"stream"`
	Group    string        `yaml:"group" mapstructure:"group"`
	Consumer string        `yaml:"consumer" mapstructure:"consumer"`
	Block    time.Duration `yaml:"block" mapstructure:"block"`
	MaxLen   int64         `yaml:"max_len" mapstructure:"max_len"`
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Stream == "" {
		c.Stream = "metro:stage_completed"
	}
	if c.Group == "" {
		c.Group = "pipeline"
	}
	if c.Consumer == "" {
		c.Consumer = "worker-1"
	}
	if c.Block == 0 {
		c.Block = 5 * time.Second
	}
	if c.MaxLen == 0 {
		c.MaxLen = 1000
	}
	return c
}

// RedisBus publishes signals to a Redis stream and consumes them through a
// consumer group, so pending stages survive a restart.
type RedisBus struct {
	rdb    redis.UniversalClient
	router *Router
	cfg    RedisConfig
}

// NewRedisBus creates a Redis Streams bus.
func NewRedisBus(rdb redis.UniversalClient, router *Router, cfg RedisConfig) *RedisBus {
	return &RedisBus{rdb: rdb, router: router, cfg: cfg.withDefaults()}
}

func (b *RedisBus) Publish(ctx context.Context, sig StageCompleted) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.Stream,
		MaxLen: b.cfg.MaxLen,
		Approx: true,
		Values: encode(sig),
	}).Err()
	if err != nil {
		return eris.Wrapf(err, "signal: xadd %s", b.cfg.Stream)
	}
	return nil
}

// EnsureGroup creates the consumer group if it does not exist.
func (b *RedisBus) EnsureGroup(ctx context.Context) error {
	err := b.rdb.XGroupCreateMkStream(ctx, b.cfg.Stream, b.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return eris.Wrapf(err, "signal: create group %s", b.cfg.Group)
	}
	return nil
}

// Run consumes the stream until ctx is done. Entries are acknowledged after
// dispatch whether or not a handler failed; stage failures are recorded by
// the stages themselves.
func (b *RedisBus) Run(ctx context.Context) error {
	if err := b.EnsureGroup(ctx); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{b.cfg.Stream, ">"},
			Count:    10,
			Block:    b.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			zap.L().Warn("signal: xreadgroup failed", zap.String("stream", b.cfg.Stream), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, st := range streams {
			for _, msg := range st.Messages {
				sig, ok := decode(msg.Values)
				if !ok {
					zap.L().Warn("signal: dropping malformed entry", zap.String("id", msg.ID))
				} else {
					_ = b.router.Dispatch(ctx, sig)
				}
				if err := b.rdb.XAck(ctx, b.cfg.Stream, b.cfg.Group, msg.ID).Err(); err != nil {
					zap.L().Warn("signal: xack failed", zap.String("id", msg.ID), zap.Error(err))
				}
			}
		}
	}
}

func encode(sig StageCompleted) map[string]any {
	return map[string]any{
		"stage":      string(sig.Stage),
		"session_id": sig.SessionID,
	}
}

func decode(values map[string]any) (StageCompleted, bool) {
	stage, _ := values["stage"].(string)
	session, _ := values["session_id"].(string)
	if stage == "" {
		return StageCompleted{}, false
	}
	return StageCompleted{Stage: model.Stage(stage), SessionID: session}, true
}
