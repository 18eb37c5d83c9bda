package symbol

import "github.com/alanyoungcy/arbscreener/internal/domain"

// DefaultQuoteAssets are the settlement assets recognised when a rule does not
// list its own.
var DefaultQuoteAssets = []string{"USDT", "USDC", "FDUSD", "BUSD", "TUSD", "DAI", "USD", "EUR", "BTC", "ETH"}

var (
	spot    = []domain.Market{domain.MarketSpot}
	futures = []domain.Market{domain.MarketFutures}
)

// DefaultRules returns the built-in rules for the supported venues, plus a
// wildcard rule that accepts the common separators.
func DefaultRules() []RuleConfig {
	q := DefaultQuoteAssets
	return []RuleConfig{
		{Exchange: Wildcard, Separators: []string{"-", "_", "/"}, QuoteAssets: q},

		// BTCUSDT in both markets.
		{Exchange: "binance", QuoteAssets: q},
		{Exchange: "bybit", QuoteAssets: q},

		// BTC-USDT spot, BTC-USDT-SWAP perpetuals.
		{Exchange: "okx", Separators: []string{"-"}, QuoteAssets: q, StripSuffixes: []string{"-SWAP"}},

		// BTC_USDT in both markets.
		{Exchange: "gate", Separators: []string{"_"}, QuoteAssets: q},
		{Exchange: "gateio", Separators: []string{"_"}, QuoteAssets: q},

		// BTCUSDT spot, BTCUSDT_UMCBL perpetuals.
		{Exchange: "bitget", Markets: spot, QuoteAssets: q},
		{Exchange: "bitget", Markets: futures, QuoteAssets: q, StripSuffixes: []string{"_UMCBL", "_CMCBL", "_DMCBL"}},

		// BTC-USDT spot, XBTUSDTM perpetuals.
		{Exchange: "kucoin", Markets: spot, Separators: []string{"-"}, QuoteAssets: q},
		{Exchange: "kucoin", Markets: futures, QuoteAssets: q, StripSuffixes: []string{"M"}, BaseAliases: map[string]string{"XBT": "BTC"}},

		// BTCUSDT spot, BTC_USDT perpetuals.
		{Exchange: "mexc", Markets: spot, QuoteAssets: q},
		{Exchange: "mexc", Markets: futures, Separators: []string{"_"}, QuoteAssets: q},

		// btcusdt spot, BTC-USDT perpetuals.
		{Exchange: "htx", Markets: spot, QuoteAssets: q},
		{Exchange: "htx", Markets: futures, Separators: []string{"-"}, QuoteAssets: q},
	}
}

// NewDefault returns a normalizer with DefaultRules followed by extra.
func NewDefault(extra ...RuleConfig) (*Normalizer, error) {
	return NewFromConfigs(append(DefaultRules(), extra...))
}
