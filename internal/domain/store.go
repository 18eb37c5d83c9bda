package domain

import (
	"context"
	"time"
)

// HistoryQuery filters history listings.
type HistoryQuery struct {
	Book   Book
	Symbol string
	Limit  int
}

// OpportunityStore persists closed opportunities.
type OpportunityStore interface {
	InsertBatch(ctx context.Context, recs []OpportunityRecord) error
	ListRecent(ctx context.Context, q HistoryQuery) ([]OpportunityRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]OpportunityRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
