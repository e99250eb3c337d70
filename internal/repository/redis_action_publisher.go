package repository

import (
	"context"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/repository"
	"TradePipe/pkg/cache"
)

// RedisActionPublisher announces actions on a pub/sub channel and keeps
// the latest one per strategy and source readable with a TTL.
type RedisActionPublisher struct {
	cache   cache.Service
	channel string
	ttl     time.Duration
}

var _ repository.ActionPublisher = (*RedisActionPublisher)(nil)

// NewRedisActionPublisher creates a publisher on c.
func NewRedisActionPublisher(c cache.Service, channel string, ttl time.Duration) *RedisActionPublisher {
	return &RedisActionPublisher{cache: c, channel: channel, ttl: ttl}
}

// LatestKey is where the newest action of a strategy and source lives.
func LatestKey(strategy string, src models.Source) string {
	return cache.GenerateKeyWithParams("latest", strategy, src)
}

func (p *RedisActionPublisher) Publish(ctx context.Context, a *models.Action) error {
	return p.cache.SetAndPublish(ctx, LatestKey(a.Strategy, a.Source), p.channel, a, p.ttl)
}

// Latest reads back the newest action for strategy and src.
func (p *RedisActionPublisher) Latest(ctx context.Context, strategy string, src models.Source) (models.Action, error) {
	return cache.GetTyped[models.Action](ctx, p.cache, LatestKey(strategy, src))
}

func (p *RedisActionPublisher) Close() error {
	return nil // connection owned by pkg/cache
}
