package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// scanBatch is the COUNT hint used when scanning mirrored quote keys.
const scanBatch = 512

// QuoteCache implements domain.QuoteCache using Redis hashes. Each quote is
// stored at "quote:{market}:{exchange}:{rawInstrumentId}" with fields symbol,
// coin, price (decimal string) and ts (Unix nanoseconds).
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache. Mirrored keys expire after ttl so stale
// instruments do not accumulate; a non-positive ttl disables expiry.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(q domain.Quote) string {
	return "quote:" + string(q.Market) + ":" + q.Exchange + ":" + q.RawInstrumentID
}

func quotePattern(m domain.Market) string {
	return "quote:" + string(m) + ":*"
}

// SetQuote stores q, replacing all of its fields at once.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q)
	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, encodeQuote(q))
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

// ListQuotes returns every mirrored quote of market. Keys that cannot be
// decoded are skipped.
func (qc *QuoteCache) ListQuotes(ctx context.Context, market domain.Market) ([]domain.Quote, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := qc.rdb.Scan(ctx, cursor, quotePattern(market), scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan quotes %s: %w", market, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis: list quotes %s: %w", market, err)
	}

	out := make([]domain.Quote, 0, len(keys))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := decodeQuote(keys[i], vals)
		if err != nil {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func encodeQuote(q domain.Quote) map[string]interface{} {
	return map[string]interface{}{
		"symbol": q.Symbol,
		"coin":   q.Coin,
		"price":  q.Price.String(),
		"ts":     strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}
}

func decodeQuote(key string, vals map[string]string) (domain.Quote, error) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) != 4 || parts[0] != "quote" {
		return domain.Quote{}, fmt.Errorf("redis: malformed quote key %q", key)
	}
	price, err := decimal.NewFromString(vals["price"])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse price %s: %w", key, err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts %s: %w", key, err)
	}
	return domain.Quote{
		Market:          domain.Market(parts[1]),
		Exchange:        parts[2],
		RawInstrumentID: parts[3],
		Symbol:          vals["symbol"],
		Coin:            vals["coin"],
		Price:           price,
		ObservedAt:      time.Unix(0, ts).UTC(),
	}, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
