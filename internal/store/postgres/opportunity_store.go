package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// maxListLimit caps ListRecent so one request cannot pull the whole table.
const maxListLimit = 1000

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunitySelectCols = `id, book, symbol, coin, exchange_a, exchange_b, direction,
	price_a, price_b, last_diff_percent, peak_diff_percent,
	first_seen_at, last_seen_at, closed_at`

// InsertBatch appends closed opportunities in one round trip. Records whose
// ID already exists are skipped.
func (s *OpportunityStore) InsertBatch(ctx context.Context, recs []domain.OpportunityRecord) error {
	if len(recs) == 0 {
		return nil
	}

	const query = `
		INSERT INTO opportunity_history (
			id, book, symbol, coin, exchange_a, exchange_b, direction,
			price_a, price_b, last_diff_percent, peak_diff_percent,
			first_seen_at, last_seen_at, closed_at, lifetime_ms
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15
		) ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(query,
			r.ID, string(r.Book), r.Symbol, r.Coin, r.ExchangeA, r.ExchangeB, string(r.Direction),
			r.PriceA, r.PriceB, r.LastDiffPercent, r.PeakDiffPercent,
			r.FirstSeenAt, r.LastSeenAt, r.ClosedAt, r.Lifetime().Milliseconds(),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert opportunity batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListRecent returns the most recently closed opportunities, newest first,
// optionally restricted to one book and symbol.
func (s *OpportunityStore) ListRecent(ctx context.Context, q domain.HistoryQuery) ([]domain.OpportunityRecord, error) {
	query, args := buildListRecent(q)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	return collectRecords(rows)
}

// ListBefore returns every opportunity closed before the cutoff, oldest first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.OpportunityRecord, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunity_history
		WHERE closed_at < $1 ORDER BY closed_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectRecords(rows)
}

// DeleteBefore removes every opportunity closed before the cutoff and returns
// the number of rows deleted.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunity_history WHERE closed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func buildListRecent(q domain.HistoryQuery) (string, []any) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunity_history WHERE TRUE`
	var args []any
	if q.Book != "" {
		args = append(args, string(q.Book))
		query += fmt.Sprintf(" AND book = $%d", len(args))
	}
	if q.Symbol != "" {
		args = append(args, q.Symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	limit := q.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY closed_at DESC LIMIT $%d", len(args))
	return query, args
}

func collectRecords(rows pgx.Rows) ([]domain.OpportunityRecord, error) {
	defer rows.Close()

	var recs []domain.OpportunityRecord
	for rows.Next() {
		var r domain.OpportunityRecord
		var book, direction string
		if err := rows.Scan(
			&r.ID, &book, &r.Symbol, &r.Coin, &r.ExchangeA, &r.ExchangeB, &direction,
			&r.PriceA, &r.PriceB, &r.LastDiffPercent, &r.PeakDiffPercent,
			&r.FirstSeenAt, &r.LastSeenAt, &r.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		r.Book = domain.Book(book)
		r.Direction = domain.Direction(direction)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: opportunity rows: %w", err)
	}
	return recs, nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
