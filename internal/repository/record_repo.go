package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tywang/bookhaul/internal/domain"
	"gorm.io/gorm"
)

// RecordRepository is the durable job ledger: one DownloadRecord per book,
// surviving process crash. All pipeline state transitions go through the
// compare-and-swap Transition so a stale owner can never clobber newer state.
type RecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository creates a new RecordRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *RecordRepository: repository instance bound to db.
func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// GetOrCreate returns the record for the book, creating a pending one if
// absent. Idempotent.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - book: catalog entry the record belongs to.
// Returns:
//   - *domain.DownloadRecord: existing or newly created record.
//   - error: non-nil if the lookup or insert fails.
func (r *RecordRepository) GetOrCreate(ctx context.Context, book domain.Book) (*domain.DownloadRecord, error) {
	var rec domain.DownloadRecord
	err := r.db.WithContext(ctx).First(&rec, "book_uid = ?", book.UID()).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("ledger lookup failed: %w", err)
	}

	rec = domain.DownloadRecord{
		BookUID:  book.UID(),
		Title:    book.Title,
		Author:   book.Author,
		Category: book.Category,
		Link:     book.Link,
		Status:   domain.StatusPending,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		// Lost a create race; the existing row wins.
		var existing domain.DownloadRecord
		if lookupErr := r.db.WithContext(ctx).First(&existing, "book_uid = ?", book.UID()).Error; lookupErr == nil {
			return &existing, nil
		}
		return nil, fmt.Errorf("ledger create failed: %w", err)
	}
	return &rec, nil
}

// Get retrieves the record for a book UID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - bookUID: record key.
// Returns:
//   - *domain.DownloadRecord: record if found.
//   - error: non-nil if lookup fails.
func (r *RecordRepository) Get(ctx context.Context, bookUID string) (*domain.DownloadRecord, error) {
	var rec domain.DownloadRecord
	if err := r.db.WithContext(ctx).First(&rec, "book_uid = ?", bookUID).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// Transition atomically moves a record from an expected status to a new one,
// applying extra field updates in the same write. It is the single
// concurrency-safety primitive of the ledger: the update only applies when
// the current status equals the expected one.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - bookUID: record key.
//   - from: status the record must currently hold.
//   - to: status to move to.
//   - fields: additional column updates applied with the transition; may be nil.
// Returns:
//   - bool: true if the transition applied; false on a status conflict.
//   - error: non-nil if the write itself fails.
func (r *RecordRepository) Transition(ctx context.Context, bookUID string, from, to domain.Status, fields map[string]interface{}) (bool, error) {
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["status"] = to

	res := r.db.WithContext(ctx).
		Model(&domain.DownloadRecord{}).
		Where("book_uid = ? AND status = ?", bookUID, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("ledger transition failed: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// UpdateProgress persists transfer progress counters for a record. Called at
// a bounded cadence by the transfer, always after the corresponding disk
// flush, so the on-disk partial file is never smaller than these counters.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - bookUID: record key.
//   - bytesDownloaded: bytes durably written so far.
//   - totalBytes: expected total size; 0 means unknown and leaves the
//     stored value untouched.
// Returns:
//   - error: non-nil if the write fails.
func (r *RecordRepository) UpdateProgress(ctx context.Context, bookUID string, bytesDownloaded, totalBytes int64) error {
	updates := map[string]interface{}{"bytes_downloaded": bytesDownloaded}
	if totalBytes > 0 {
		updates["total_bytes"] = totalBytes
	}
	return r.db.WithContext(ctx).
		Model(&domain.DownloadRecord{}).
		Where("book_uid = ?", bookUID).
		Updates(updates).Error
}

// ListDue retrieves pending records whose retry backoff has elapsed, ordered
// by book UID for deterministic admission.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - now: eligibility instant compared against not_before.
// Returns:
//   - []domain.DownloadRecord: due records in ascending UID order.
//   - error: non-nil if the query fails.
func (r *RecordRepository) ListDue(ctx context.Context, now time.Time) ([]domain.DownloadRecord, error) {
	var recs []domain.DownloadRecord
	if err := r.db.WithContext(ctx).
		Where("status = ? AND (not_before IS NULL OR not_before <= ?)", domain.StatusPending, now).
		Order("book_uid ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// ListByStatus retrieves records by status with a limit; limit <= 0 means all.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - status: record status to filter by.
//   - limit: maximum number of records to return.
// Returns:
//   - []domain.DownloadRecord: matching records.
//   - error: non-nil if the query fails.
func (r *RecordRepository) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.DownloadRecord, error) {
	var recs []domain.DownloadRecord
	q := r.db.WithContext(ctx).Where("status = ?", status).Order("book_uid ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// CompletedUIDs returns the set of book UIDs already completed, used to skip
// finished items cheaply at run start.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - map[string]struct{}: completed UIDs.
//   - error: non-nil if the query fails.
func (r *RecordRepository) CompletedUIDs(ctx context.Context) (map[string]struct{}, error) {
	var uids []string
	if err := r.db.WithContext(ctx).
		Model(&domain.DownloadRecord{}).
		Where("status = ?", domain.StatusCompleted).
		Pluck("book_uid", &uids).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		set[uid] = struct{}{}
	}
	return set, nil
}

// ResetFailed moves all failed records back to pending, zeroing their attempt
// counters and clearing errors and backoff, so a follow-up run retries them.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: number of records reset.
//   - error: non-nil if the update fails.
func (r *RecordRepository) ResetFailed(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.DownloadRecord{}).
		Where("status = ?", domain.StatusFailed).
		Updates(map[string]interface{}{
			"status":        domain.StatusPending,
			"attempt_count": 0,
			"last_error":    "",
			"not_before":    nil,
		})
	return res.RowsAffected, res.Error
}

// RecoverInterrupted moves records left mid-pipeline by a crash (resolving,
// downloading, extracting) back to pending with their partial-file state
// intact, so a fresh pipeline re-evaluates and resumes them.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: number of records recovered.
//   - error: non-nil if the update fails.
func (r *RecordRepository) RecoverInterrupted(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.DownloadRecord{}).
		Where("status IN ?", []domain.Status{
			domain.StatusResolving, domain.StatusDownloading, domain.StatusExtracting,
		}).
		Update("status", domain.StatusPending)
	return res.RowsAffected, res.Error
}

// Stats counts records grouped by status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - map[domain.Status]int64: count per status.
//   - error: non-nil if the query fails.
func (r *RecordRepository) Stats(ctx context.Context) (map[domain.Status]int64, error) {
	type row struct {
		Status domain.Status
		Cnt    int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&domain.DownloadRecord{}).
		Select("status, COUNT(*) as cnt").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	stats := make(map[domain.Status]int64, len(rows))
	for _, rw := range rows {
		stats[rw.Status] = rw.Cnt
	}
	return stats, nil
}

// TotalSize sums the extracted file sizes of completed records.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: total bytes across completed downloads.
//   - error: non-nil if the query fails.
func (r *RecordRepository) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&domain.DownloadRecord{}).
		Where("status = ?", domain.StatusCompleted).
		Select("COALESCE(SUM(file_size), 0)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
