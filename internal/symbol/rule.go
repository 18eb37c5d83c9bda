package symbol

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// Rule maps one exchange's raw instrument id to its canonical instrument. A
// Rule must be a pure function of its input.
type Rule func(raw string) (domain.Instrument, error)

// RuleConfig describes a string-transform rule for one exchange. It is the
// decoded form of a [[symbols.rules]] config entry.
type RuleConfig struct {
	Exchange string          `toml:"exchange"`
	Markets  []domain.Market `toml:"markets"`

	// Separators split BASE<sep>QUOTE ids such as "BTC-USDT". When none is
	// present in an id, the longest matching QuoteAssets suffix is split off.
	Separators    []string          `toml:"separators"`
	QuoteAssets   []string          `toml:"quote_assets"`
	StripPrefixes []string          `toml:"strip_prefixes"`
	StripSuffixes []string          `toml:"strip_suffixes"`
	BaseAliases   map[string]string `toml:"base_aliases"`
}

// Build compiles the config into a Rule. The config is copied so later
// mutation of c does not affect the returned Rule.
func (c RuleConfig) Build() (Rule, error) {
	if strings.TrimSpace(c.Exchange) == "" {
		return nil, fmt.Errorf("symbol: rule: exchange is required")
	}
	quotes := upperAll(c.QuoteAssets)
	if len(quotes) == 0 {
		return nil, fmt.Errorf("symbol: rule %s: at least one quote asset is required", c.Exchange)
	}
	// Longest first so "USDT" wins over "USD".
	sort.SliceStable(quotes, func(i, j int) bool { return len(quotes[i]) > len(quotes[j]) })

	seps := append([]string(nil), c.Separators...)
	prefixes := upperAll(c.StripPrefixes)
	suffixes := upperAll(c.StripSuffixes)
	sort.SliceStable(suffixes, func(i, j int) bool { return len(suffixes[i]) > len(suffixes[j]) })

	aliases := make(map[string]string, len(c.BaseAliases))
	for k, v := range c.BaseAliases {
		aliases[strings.ToUpper(k)] = strings.ToUpper(v)
	}
	quoteSet := make(map[string]struct{}, len(quotes))
	for _, q := range quotes {
		quoteSet[q] = struct{}{}
	}
	exchange := domain.NormalizeExchange(c.Exchange)

	return func(raw string) (domain.Instrument, error) {
		s := strings.ToUpper(strings.TrimSpace(raw))
		for _, p := range prefixes {
			if strings.HasPrefix(s, p) {
				s = s[len(p):]
				break
			}
		}
		for _, suf := range suffixes {
			if len(s) > len(suf) && strings.HasSuffix(s, suf) {
				s = s[:len(s)-len(suf)]
				break
			}
		}

		var base, quote string
		if sep, ok := firstSeparator(s, seps); ok {
			parts := strings.Split(s, sep)
			if len(parts) != 2 {
				return domain.Instrument{}, unrecognized(exchange, raw, "expected BASE"+sep+"QUOTE")
			}
			base, quote = parts[0], parts[1]
			if _, ok := quoteSet[quote]; !ok {
				return domain.Instrument{}, unrecognized(exchange, raw, "unknown quote asset "+quote)
			}
		} else {
			for _, q := range quotes {
				if len(s) > len(q) && strings.HasSuffix(s, q) {
					base, quote = s[:len(s)-len(q)], q
					break
				}
			}
			if quote == "" {
				return domain.Instrument{}, unrecognized(exchange, raw, "no known quote asset suffix")
			}
		}

		if alias, ok := aliases[base]; ok {
			base = alias
		}
		if !isTicker(base) || !isTicker(quote) {
			return domain.Instrument{}, unrecognized(exchange, raw, "malformed ticker")
		}
		return domain.Instrument{Symbol: base + quote, Base: base, Quote: quote}, nil
	}, nil
}

func unrecognized(exchange, raw, reason string) error {
	return fmt.Errorf("%w: %s %q: %s", domain.ErrUnrecognizedInstrument, exchange, raw, reason)
}

func firstSeparator(s string, seps []string) (string, bool) {
	for _, sep := range seps {
		if sep != "" && strings.Contains(s, sep) {
			return sep, true
		}
	}
	return "", false
}

// isTicker reports whether s is a non-empty run of A-Z and 0-9.
func isTicker(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
