// Package query decodes diff query parameters and applies them to a book's
// reconciled opportunity snapshot.
package query

import (
	"sort"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// Apply returns the snapshots that satisfy every bound of f, ranked by
// descending diff, then longer lifetime, then key, and truncated to f.TopRows.
// snaps is not modified. The filter must already be validated.
func Apply(snaps []domain.OpportunitySnapshot, f domain.Filter) []domain.OpportunitySnapshot {
	exchanges := toSet(f.Exchanges)
	symbols := toSet(f.Symbols)
	coins := toSet(f.Coins)

	out := make([]domain.OpportunitySnapshot, 0, len(snaps))
	for _, s := range snaps {
		if !matchStatus(s, f.Status) {
			continue
		}
		if exchanges != nil && !(has(exchanges, s.ExchangeA) && has(exchanges, s.ExchangeB)) {
			continue
		}
		if symbols != nil && !has(symbols, s.Symbol) {
			continue
		}
		if coins != nil && !has(coins, s.Coin) {
			continue
		}
		if f.MinDiff != nil && s.DiffPercent.LessThan(*f.MinDiff) {
			continue
		}
		if f.MaxDiff != nil && s.DiffPercent.GreaterThan(*f.MaxDiff) {
			continue
		}
		lt := s.Lifetime()
		if f.MinLifetime != nil && lt < *f.MinLifetime {
			continue
		}
		if f.MaxLifetime != nil && lt > *f.MaxLifetime {
			continue
		}
		out = append(out, s)
	}

	Rank(out)
	if f.TopRows > 0 && len(out) > f.TopRows {
		out = out[:f.TopRows]
	}
	return out
}

// Rank sorts snapshots in place by descending diff, then descending lifetime,
// then ascending key.
func Rank(s []domain.OpportunitySnapshot) {
	sort.SliceStable(s, func(i, j int) bool {
		if c := s[i].DiffPercent.Cmp(s[j].DiffPercent); c != 0 {
			return c > 0
		}
		if li, lj := s[i].Lifetime(), s[j].Lifetime(); li != lj {
			return li > lj
		}
		return s[i].OpportunityKey.Less(s[j].OpportunityKey)
	})
}

func matchStatus(s domain.OpportunitySnapshot, st domain.StatusFilter) bool {
	switch st {
	case domain.StatusAll:
		return true
	case domain.StatusInactive:
		return !s.Active
	default:
		return s.Active
	}
}

func toSet(list []string) map[string]struct{} {
	if len(list) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(list))
	for _, v := range list {
		m[v] = struct{}{}
	}
	return m
}

func has(m map[string]struct{}, v string) bool {
	_, ok := m[v]
	return ok
}
