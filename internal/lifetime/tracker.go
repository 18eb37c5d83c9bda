// Package lifetime tracks how long each qualifying price difference has
// persisted across recomputation cycles.
package lifetime

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// DefaultRetention is how long an inactive opportunity stays queryable when
// no retention is configured.
const DefaultRetention = 10 * time.Minute

// Options configures a Tracker.
type Options struct {
	// Floor is the qualification threshold. A zero floor qualifies any diff
	// strictly above zero; a positive floor qualifies diffs at or above it.
	Floor decimal.Decimal
	// Absolute compares the magnitude of the diff with Floor. Directional
	// books set it because one of their two legs is negative.
	Absolute bool
	// Retention is how long inactive records are kept before eviction.
	Retention time.Duration
}

// Result is the outcome of one reconciliation.
type Result struct {
	// Snapshots holds every retained opportunity, active or not, sorted by key.
	Snapshots []domain.OpportunitySnapshot
	// Opened holds the opportunities that became active this cycle.
	Opened []domain.OpportunitySnapshot
	// Closed holds the opportunities that became inactive this cycle.
	Closed []domain.OpportunitySnapshot
	// Evicted counts inactive records dropped after the retention window.
	Evicted int
}

// Active returns the active snapshots of r.
func (r Result) Active() []domain.OpportunitySnapshot {
	out := make([]domain.OpportunitySnapshot, 0, len(r.Snapshots))
	for _, s := range r.Snapshots {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// Tracker owns the opportunity table of one book. It is driven by a single
// reconciliation path and is not safe for concurrent use.
type Tracker struct {
	opts    Options
	records map[domain.OpportunityKey]*domain.OpportunitySnapshot
	lastNow time.Time
	started bool
}

// NewTracker returns an empty tracker.
func NewTracker(opts Options) *Tracker {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &Tracker{
		opts:    opts,
		records: make(map[domain.OpportunityKey]*domain.OpportunitySnapshot),
	}
}

// Qualifies reports whether diff meets the tracker's floor.
func (t *Tracker) Qualifies(diff decimal.Decimal) bool {
	if t.opts.Absolute {
		diff = diff.Abs()
	}
	if t.opts.Floor.IsPositive() {
		return diff.GreaterThanOrEqual(t.opts.Floor)
	}
	return diff.IsPositive()
}

// Reconcile applies one cycle's candidates at now. Calling it again with the
// same candidates and the same now changes nothing. A now earlier than the
// previous cycle fails with domain.ErrClockRegression and leaves the table
// untouched.
func (t *Tracker) Reconcile(cands []domain.DiffCandidate, now time.Time) (Result, error) {
	if t.started && now.Before(t.lastNow) {
		return Result{}, fmt.Errorf("lifetime: reconcile at %s after %s: %w",
			now.Format(time.RFC3339Nano), t.lastNow.Format(time.RFC3339Nano), domain.ErrClockRegression)
	}

	var res Result
	qualifying := make(map[domain.OpportunityKey]struct{}, len(cands))
	for _, c := range cands {
		if !t.Qualifies(c.DiffPercent) {
			continue
		}
		key := c.Key()
		qualifying[key] = struct{}{}

		rec, ok := t.records[key]
		if ok && rec.Active {
			rec.Coin = c.Coin
			rec.PriceA, rec.PriceB = c.PriceA, c.PriceB
			rec.DiffPercent = c.DiffPercent
			rec.LastSeenAt = now
			if c.DiffPercent.Abs().GreaterThan(rec.PeakDiffPercent.Abs()) {
				rec.PeakDiffPercent = c.DiffPercent
			}
			continue
		}

		// Absent or inactive: a gap always restarts the lifetime.
		rec = &domain.OpportunitySnapshot{
			OpportunityKey:  key,
			Coin:            c.Coin,
			PriceA:          c.PriceA,
			PriceB:          c.PriceB,
			DiffPercent:     c.DiffPercent,
			PeakDiffPercent: c.DiffPercent,
			FirstSeenAt:     now,
			LastSeenAt:      now,
			Active:          true,
		}
		t.records[key] = rec
		res.Opened = append(res.Opened, *rec)
	}

	for key, rec := range t.records {
		if _, ok := qualifying[key]; ok {
			continue
		}
		if rec.Active {
			rec.Active = false
			rec.DeactivatedAt = now
			res.Closed = append(res.Closed, *rec)
			continue
		}
		if now.Sub(rec.DeactivatedAt) > t.opts.Retention {
			delete(t.records, key)
			res.Evicted++
		}
	}

	res.Snapshots = t.snapshot()
	sortByKey(res.Opened)
	sortByKey(res.Closed)

	t.lastNow = now
	t.started = true
	return res, nil
}

// Len returns the number of retained records.
func (t *Tracker) Len() int {
	return len(t.records)
}

func (t *Tracker) snapshot() []domain.OpportunitySnapshot {
	out := make([]domain.OpportunitySnapshot, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	sortByKey(out)
	return out
}

func sortByKey(s []domain.OpportunitySnapshot) {
	sort.Slice(s, func(i, j int) bool { return s[i].OpportunityKey.Less(s[j].OpportunityKey) })
}
