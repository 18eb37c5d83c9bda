// Package memory provides in-process implementations of the cache adapters
// for standalone mode and tests.
package memory

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// subscriberBuffer matches the buffering of the Redis bus.
const subscriberBuffer = 128

// defaultStreamLen bounds each stream kept by the bus.
const defaultStreamLen = 1000

type subscriber struct {
	pattern string
	ch      chan domain.Message
}

// SignalBus is an in-process domain.SignalBus and domain.StreamLog. Channel
// names support the same glob patterns as Redis PSUBSCRIBE. Publish never
// blocks: a subscriber whose buffer is full misses the message.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	streams map[string][]domain.StreamMessage
	seq     uint64
	maxLen  int
}

// NewSignalBus creates an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[int]*subscriber),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  defaultStreamLen,
	}
}

// Publish delivers payload to every matching subscriber.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !matches(s.pattern, channel) {
			continue
		}
		msg := domain.Message{Channel: channel, Payload: append([]byte(nil), payload...)}
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscription that lasts until ctx is cancelled, at
// which point the returned channel is closed.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan domain.Message, error) {
	s := &subscriber{pattern: channel, ch: make(chan domain.Message, subscriberBuffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

// StreamAppend appends payload to stream, trimming the oldest entries beyond
// the bus limit.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	entries := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.seq, 10),
		Payload: append([]byte(nil), payload...),
	})
	if len(entries) > b.maxLen {
		entries = entries[len(entries)-b.maxLen:]
	}
	b.streams[stream] = entries
	return nil
}

// StreamRecent returns up to count of the newest entries, oldest first.
func (b *SignalBus) StreamRecent(_ context.Context, stream string, count int) ([]domain.StreamMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := b.streams[stream]
	if count > 0 && len(entries) > count {
		entries = entries[len(entries)-count:]
	}
	return append([]domain.StreamMessage(nil), entries...), nil
}

func matches(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	ok, err := path.Match(pattern, channel)
	return err == nil && ok
}

// Compile-time interface checks.
var (
	_ domain.SignalBus = (*SignalBus)(nil)
	_ domain.StreamLog = (*SignalBus)(nil)
)
