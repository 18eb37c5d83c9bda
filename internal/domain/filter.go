package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StatusFilter selects opportunities by activity.
type StatusFilter string

const (
	StatusActive   StatusFilter = "active"
	StatusInactive StatusFilter = "inactive"
	StatusAll      StatusFilter = "all"
)

// Filter is the decoded, strongly typed form of the diff query parameters.
// Nil bounds and empty lists mean "no constraint". A TopRows of zero means all.
type Filter struct {
	Exchanges   []string
	Symbols     []string
	Coins       []string
	MinDiff     *decimal.Decimal
	MaxDiff     *decimal.Decimal
	MinLifetime *time.Duration
	MaxLifetime *time.Duration
	TopRows     int
	Opposite    bool
	Status      StatusFilter
}

// Validate checks the filter ranges. It never inspects opportunity data.
func (f Filter) Validate() error {
	if f.TopRows < 0 {
		return fmt.Errorf("%w: topRows must be positive or \"all\"", ErrInvalidFilter)
	}
	if f.MinDiff != nil && f.MaxDiff != nil && f.MinDiff.GreaterThan(*f.MaxDiff) {
		return fmt.Errorf("%w: minDiffPerc %s exceeds maxDiffPerc %s", ErrInvalidFilter, f.MinDiff, f.MaxDiff)
	}
	if f.MinLifetime != nil && *f.MinLifetime < 0 {
		return fmt.Errorf("%w: minLifetime must not be negative", ErrInvalidFilter)
	}
	if f.MaxLifetime != nil && *f.MaxLifetime < 0 {
		return fmt.Errorf("%w: maxLifetime must not be negative", ErrInvalidFilter)
	}
	if f.MinLifetime != nil && f.MaxLifetime != nil && *f.MinLifetime > *f.MaxLifetime {
		return fmt.Errorf("%w: minLifetime exceeds maxLifetime", ErrInvalidFilter)
	}
	switch f.Status {
	case "", StatusActive, StatusInactive, StatusAll:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, f.Status)
	}
	return nil
}
