package domain

import (
	"context"
	"time"
)

// QuoteCache mirrors accepted quotes outside the process so a restarted
// engine can warm its Quote Store.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	ListQuotes(ctx context.Context, market Market) ([]Quote, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides fire-and-forget pub/sub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan Message, error)
}

// Message is one payload delivered by a SignalBus subscription. Channel is the
// concrete channel it was published on, which differs from the subscription
// name for pattern subscriptions.
type Message struct {
	Channel string
	Payload []byte
}

// StreamLog is a bounded, append-only message history.
type StreamLog interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRecent(ctx context.Context, stream string, count int) ([]StreamMessage, error)
}

// StreamMessage is one entry of a StreamLog.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// RateLimiter decides whether a keyed request fits within limit per window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
