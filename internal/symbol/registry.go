// Package symbol maps exchange-native instrument ids to canonical symbols
// through a registry of per-exchange rules.
package symbol

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// Wildcard is the exchange name of a rule used when no exchange-specific rule
// is registered for a market.
const Wildcard = "*"

type ruleKey struct {
	exchange string
	market   domain.Market
}

// Normalizer holds the registered rules. Rules are normally registered once at
// startup; Normalize is safe for concurrent use.
type Normalizer struct {
	rules map[ruleKey]Rule
	mu    sync.RWMutex
}

// NewNormalizer returns an empty normalizer. Call Register to add rules.
func NewNormalizer() *Normalizer {
	return &Normalizer{rules: make(map[ruleKey]Rule)}
}

// NewFromConfigs builds a normalizer from rule configs. Later configs replace
// earlier ones for the same (exchange, market).
func NewFromConfigs(cfgs []RuleConfig) (*Normalizer, error) {
	n := NewNormalizer()
	for _, c := range cfgs {
		if err := n.RegisterConfig(c); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Register adds a rule for exchange in market, replacing any existing one.
func (n *Normalizer) Register(exchange string, market domain.Market, r Rule) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rules[ruleKey{exchange: domain.NormalizeExchange(exchange), market: market}] = r
}

// RegisterConfig compiles c and registers it for each of its markets. A config
// without markets applies to all of them.
func (n *Normalizer) RegisterConfig(c RuleConfig) error {
	r, err := c.Build()
	if err != nil {
		return err
	}
	markets := c.Markets
	if len(markets) == 0 {
		markets = domain.Markets
	}
	for _, m := range markets {
		if _, err := domain.ParseMarket(string(m)); err != nil {
			return fmt.Errorf("symbol: rule %s: %w", c.Exchange, err)
		}
		n.Register(c.Exchange, m, r)
	}
	return nil
}

// Normalize resolves raw to a canonical instrument using the rule registered
// for (exchange, market), falling back to the wildcard rule. It fails with
// domain.ErrUnrecognizedInstrument when no rule matches.
func (n *Normalizer) Normalize(market domain.Market, exchange, raw string) (domain.Instrument, error) {
	exchange = domain.NormalizeExchange(exchange)
	n.mu.RLock()
	r, ok := n.rules[ruleKey{exchange: exchange, market: market}]
	if !ok {
		r, ok = n.rules[ruleKey{exchange: Wildcard, market: market}]
	}
	n.mu.RUnlock()
	if !ok {
		return domain.Instrument{}, fmt.Errorf("%w: no %s rule for exchange %q", domain.ErrUnrecognizedInstrument, market, exchange)
	}
	return r(raw)
}

// Exchanges returns the exchanges with a registered rule, sorted.
func (n *Normalizer) Exchanges() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range n.rules {
		seen[k.exchange] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
