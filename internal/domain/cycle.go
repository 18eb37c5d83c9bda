package domain

import (
	"context"
	"time"
)

// CycleReport is the published outcome of one book in one recomputation cycle.
type CycleReport struct {
	Book       Book
	At         time.Time
	Candidates int
	Snapshots  []OpportunitySnapshot
	Opened     []OpportunitySnapshot
	Closed     []OpportunitySnapshot
}

// CycleSink consumes cycle reports after they are published to readers.
type CycleSink interface {
	HandleCycle(ctx context.Context, r CycleReport) error
}

// CycleSinkFunc adapts a function to CycleSink.
type CycleSinkFunc func(ctx context.Context, r CycleReport) error

// HandleCycle calls f.
func (f CycleSinkFunc) HandleCycle(ctx context.Context, r CycleReport) error {
	return f(ctx, r)
}
