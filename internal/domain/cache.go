package domain

import (
	"context"
	"time"
)

// QuoteCache keeps the latest quote per contract for readers that must not
// hit the upstream quote API.
type QuoteCache interface {
	SetQuote(ctx context.Context, positionID string, q Quote) error
	GetQuote(ctx context.Context, positionID string) (Quote, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides raw pub/sub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter admits or rejects requests for a key under a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
