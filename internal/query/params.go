package query

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// Request is a decoded diff query: the market to read and the filter to apply.
type Request struct {
	Market domain.Market
	Filter domain.Filter
}

// Book returns the book that serves the request.
func (r Request) Book() domain.Book {
	return domain.BookFor(r.Market, r.Filter.Opposite)
}

// ParseParams decodes and validates the string-encoded query parameters. Any
// malformed value fails with domain.ErrInvalidFilter; an unknown mode fails
// with domain.ErrUnknownMode.
func ParseParams(v url.Values) (Request, error) {
	req := Request{Market: domain.MarketSpot, Filter: domain.Filter{Status: domain.StatusActive}}

	if s := strings.TrimSpace(v.Get("mode")); s != "" {
		m, err := domain.ParseMarket(s)
		if err != nil {
			return Request{}, err
		}
		req.Market = m
	}

	if s := strings.TrimSpace(v.Get("opposite")); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Request{}, invalid("opposite", s, "expected true or false")
		}
		req.Filter.Opposite = b && req.Market == domain.MarketFutures
	}

	f := &req.Filter
	f.Exchanges = splitList(v["exchanges"], domain.NormalizeExchange)
	f.Symbols = splitList(v["symbols"], CanonicalSymbol)
	f.Coins = splitList(v["coins"], strings.ToUpper)

	var err error
	if f.MinDiff, err = parseDecimal(v, "minDiffPerc"); err != nil {
		return Request{}, err
	}
	if f.MaxDiff, err = parseDecimal(v, "maxDiffPerc"); err != nil {
		return Request{}, err
	}
	if f.MinLifetime, err = parseLifetime(v, "minLifetime"); err != nil {
		return Request{}, err
	}
	if f.MaxLifetime, err = parseLifetime(v, "maxLifetime"); err != nil {
		return Request{}, err
	}

	if s := strings.TrimSpace(v.Get("topRows")); s != "" && !strings.EqualFold(s, "all") {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return Request{}, invalid("topRows", s, "expected a positive integer or \"all\"")
		}
		f.TopRows = n
	}

	if s := strings.TrimSpace(v.Get("status")); s != "" {
		f.Status = domain.StatusFilter(strings.ToLower(s))
	}

	if err := f.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// CanonicalSymbol upper-cases s and drops the common separators, so "btc-usdt"
// and "BTC_USDT" both select BTCUSDT.
func CanonicalSymbol(s string) string {
	return strings.NewReplacer("-", "", "_", "", "/", "", " ", "").Replace(strings.ToUpper(s))
}

// splitList joins repeated parameters and comma-separated values, dropping
// blanks and duplicates.
func splitList(values []string, norm func(string) string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = norm(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}

func parseDecimal(v url.Values, name string) (*decimal.Decimal, error) {
	s := strings.TrimSpace(v.Get(name))
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, invalid(name, s, "expected a decimal number")
	}
	return &d, nil
}

// maxLifetimeSeconds is the largest whole-second bound a time.Duration holds.
const maxLifetimeSeconds = math.MaxInt64 / int64(time.Second)

// parseLifetime accepts integer seconds ("90") or a Go duration ("1m30s").
func parseLifetime(v url.Values, name string) (*time.Duration, error) {
	s := strings.TrimSpace(v.Get(name))
	if s == "" {
		return nil, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > maxLifetimeSeconds || n < -maxLifetimeSeconds {
			return nil, invalid(name, s, "out of range")
		}
		d := time.Duration(n) * time.Second
		return &d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, invalid(name, s, "expected seconds or a duration such as 30s")
	}
	return &d, nil
}

func invalid(name, value, reason string) error {
	return fmt.Errorf("%w: %s=%q: %s", domain.ErrInvalidFilter, name, value, reason)
}
