package engine

import (
	"time"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// DiffView is the wire form of one opportunity snapshot, shared by the HTTP
// API and the live stream.
type DiffView struct {
	Symbol          string           `json:"symbol"`
	Coin            string           `json:"coin"`
	ExchangeA       string           `json:"exchangeA"`
	ExchangeB       string           `json:"exchangeB"`
	PriceA          string           `json:"priceA"`
	PriceB          string           `json:"priceB"`
	DiffPercent     string           `json:"diffPercent"`
	PeakDiffPercent string           `json:"peakDiffPercent"`
	Direction       domain.Direction `json:"direction,omitempty"`
	FirstSeenAt     time.Time        `json:"firstSeenAt"`
	LastSeenAt      time.Time        `json:"lastSeenAt"`
	LifetimeSeconds int64            `json:"lifetimeSeconds"`
	Active          bool             `json:"active"`
}

// NewDiffView converts s. The direction is only rendered for directional
// books, where both legs of a pair are listed.
func NewDiffView(s domain.OpportunitySnapshot, withDirection bool) DiffView {
	v := DiffView{
		Symbol:          s.Symbol,
		Coin:            s.Coin,
		ExchangeA:       s.ExchangeA,
		ExchangeB:       s.ExchangeB,
		PriceA:          s.PriceA.String(),
		PriceB:          s.PriceB.String(),
		DiffPercent:     s.DiffPercent.String(),
		PeakDiffPercent: s.PeakDiffPercent.String(),
		FirstSeenAt:     s.FirstSeenAt,
		LastSeenAt:      s.LastSeenAt,
		LifetimeSeconds: int64(s.Lifetime() / time.Second),
		Active:          s.Active,
	}
	if withDirection {
		v.Direction = s.Direction
	}
	return v
}

// NewDiffViews converts a ranked snapshot list, preserving order.
func NewDiffViews(snaps []domain.OpportunitySnapshot, withDirection bool) []DiffView {
	out := make([]DiffView, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, NewDiffView(s, withDirection))
	}
	return out
}
