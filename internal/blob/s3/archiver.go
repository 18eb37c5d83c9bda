package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// DefaultMultipartThreshold is the payload size above which archives are
// uploaded in parts.
const DefaultMultipartThreshold = 64 * 1024 * 1024

// ObjectChecker confirms an upload landed before source rows are deleted.
type ObjectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// HistoryStore is the subset of domain.OpportunityStore the archiver needs.
type HistoryStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.OpportunityRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// HistoryArchiver implements domain.Archiver. It serializes closed
// opportunities to JSONL, uploads the file, verifies it and only then deletes
// the archived rows.
type HistoryArchiver struct {
	writer    domain.BlobWriter
	checker   ObjectChecker
	store     HistoryStore
	threshold int64
}

// NewHistoryArchiver creates a HistoryArchiver. A non-positive threshold
// selects DefaultMultipartThreshold.
func NewHistoryArchiver(writer domain.BlobWriter, checker ObjectChecker, store HistoryStore, threshold int64) *HistoryArchiver {
	if threshold <= 0 {
		threshold = DefaultMultipartThreshold
	}
	return &HistoryArchiver{
		writer:    writer,
		checker:   checker,
		store:     store,
		threshold: threshold,
	}
}

// ArchiveHistory uploads every opportunity closed before the cutoff and
// returns the number of rows removed from the primary store. Nothing is
// deleted when the upload cannot be confirmed.
func (a *HistoryArchiver) ArchiveHistory(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history marshal: %w", err)
	}

	path := ArchivePath(before)
	if int64(len(buf)) > a.threshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history upload %s: %w", path, err)
	}

	ok, err := a.checker.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history verify %s: %w", path, err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive history verify %s: %w", path, domain.ErrNotFound)
	}

	n, err := a.store.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history delete: %w", err)
	}
	return n, nil
}

// ArchivePrefix is the key prefix under which history archives are stored.
const ArchivePrefix = "opportunities/"

// ArchivePath builds the S3 key for a history archive, partitioned by the
// UTC day of the cutoff.
//
//	opportunities/2026/10/11/history-1791676800.jsonl
func ArchivePath(before time.Time) string {
	u := before.UTC()
	return fmt.Sprintf("%s%s/history-%d.jsonl", ArchivePrefix, u.Format("2006/01/02"), u.Unix())
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*HistoryArchiver)(nil)
