package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tywang/bookhaul/internal/config"
	"github.com/tywang/bookhaul/internal/domain"
)

func testRepo(t *testing.T) *RecordRepository {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:          "sqlite",
		Path:            filepath.Join(t.TempDir(), "state.db"),
		MaxIdleConns:    1,
		MaxOpenConns:    1,
		ConnMaxLifetime: time.Hour,
		AutoMigrate:     true,
	})
	if err != nil {
		t.Fatalf("InitDB() error: %v", err)
	}
	return NewRecordRepository(db)
}

func testBook(uid string) domain.Book {
	return domain.Book{
		Title:    "Book " + uid,
		Author:   "Author",
		Category: "小说",
		Link:     "https://url89.ctfile.com/f/" + uid,
	}
}

func TestGetOrCreateIdempotent(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	book := testBook("1-100-aa")

	rec1, err := repo.GetOrCreate(ctx, book)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if rec1.Status != domain.StatusPending {
		t.Errorf("new record status = %s, want pending", rec1.Status)
	}

	// Mutate, then re-create: the existing row must win.
	if _, err := repo.Transition(ctx, book.UID(), domain.StatusPending, domain.StatusCompleted, nil); err != nil {
		t.Fatal(err)
	}
	rec2, err := repo.GetOrCreate(ctx, book)
	if err != nil {
		t.Fatalf("GetOrCreate() second call error: %v", err)
	}
	if rec2.Status != domain.StatusCompleted {
		t.Errorf("second GetOrCreate returned status %s, want completed", rec2.Status)
	}
}

func TestTransitionCAS(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	book := testBook("1-100-aa")
	if _, err := repo.GetOrCreate(ctx, book); err != nil {
		t.Fatal(err)
	}
	uid := book.UID()

	ok, err := repo.Transition(ctx, uid, domain.StatusPending, domain.StatusResolving,
		map[string]interface{}{"attempt_count": 1})
	if err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	if !ok {
		t.Fatal("expected first transition to apply")
	}

	// Same expected-from again: the record moved on, so this must lose.
	ok, err = repo.Transition(ctx, uid, domain.StatusPending, domain.StatusResolving, nil)
	if err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	if ok {
		t.Error("expected stale transition to be rejected")
	}

	rec, err := repo.Get(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != domain.StatusResolving {
		t.Errorf("status = %s, want resolving", rec.Status)
	}
	if rec.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", rec.AttemptCount)
	}
}

func TestTransitionAppliesExtraFields(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	book := testBook("1-100-aa")
	if _, err := repo.GetOrCreate(ctx, book); err != nil {
		t.Fatal(err)
	}
	uid := book.UID()

	notBefore := time.Now().Add(5 * time.Second).UTC().Truncate(time.Second)
	ok, err := repo.Transition(ctx, uid, domain.StatusPending, domain.StatusPending,
		map[string]interface{}{
			"last_error": "resolve failed",
			"not_before": notBefore,
		})
	if err != nil || !ok {
		t.Fatalf("Transition() = %v, %v", ok, err)
	}

	rec, err := repo.Get(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if rec.LastError != "resolve failed" {
		t.Errorf("last_error = %q", rec.LastError)
	}
	if rec.NotBefore == nil || !rec.NotBefore.Equal(notBefore) {
		t.Errorf("not_before = %v, want %v", rec.NotBefore, notBefore)
	}
}

func TestUpdateProgress(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	book := testBook("1-100-aa")
	if _, err := repo.GetOrCreate(ctx, book); err != nil {
		t.Fatal(err)
	}
	uid := book.UID()

	if err := repo.UpdateProgress(ctx, uid, 1024, 4096); err != nil {
		t.Fatalf("UpdateProgress() error: %v", err)
	}
	rec, err := repo.Get(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if rec.BytesDownloaded != 1024 || rec.TotalBytes != 4096 {
		t.Errorf("progress = %d/%d, want 1024/4096", rec.BytesDownloaded, rec.TotalBytes)
	}

	// An unknown total (remote without Content-Length) must not clobber a
	// total already learned at resolve time.
	if err := repo.UpdateProgress(ctx, uid, 2048, 0); err != nil {
		t.Fatalf("UpdateProgress() error: %v", err)
	}
	rec, err = repo.Get(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if rec.BytesDownloaded != 2048 {
		t.Errorf("bytes_downloaded = %d, want 2048", rec.BytesDownloaded)
	}
	if rec.TotalBytes != 4096 {
		t.Errorf("total_bytes = %d, want 4096 preserved on zero total", rec.TotalBytes)
	}
}

func TestListDue(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	now := time.Now()

	// b: pending, no backoff. a: pending, elapsed backoff. c: pending,
	// future backoff. d: completed.
	for _, uid := range []string{"1-2-bb", "1-1-aa", "1-3-cc", "1-4-dd"} {
		if _, err := repo.GetOrCreate(ctx, testBook(uid)); err != nil {
			t.Fatal(err)
		}
	}
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)
	if ok, err := repo.Transition(ctx, "1-1-aa", domain.StatusPending, domain.StatusPending,
		map[string]interface{}{"not_before": past}); err != nil || !ok {
		t.Fatal(err)
	}
	if ok, err := repo.Transition(ctx, "1-3-cc", domain.StatusPending, domain.StatusPending,
		map[string]interface{}{"not_before": future}); err != nil || !ok {
		t.Fatal(err)
	}
	if ok, err := repo.Transition(ctx, "1-4-dd", domain.StatusPending, domain.StatusCompleted, nil); err != nil || !ok {
		t.Fatal(err)
	}

	due, err := repo.ListDue(ctx, now)
	if err != nil {
		t.Fatalf("ListDue() error: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due records, want 2", len(due))
	}
	// Deterministic UID order.
	if due[0].BookUID != "1-1-aa" || due[1].BookUID != "1-2-bb" {
		t.Errorf("due order = %s, %s; want 1-1-aa, 1-2-bb", due[0].BookUID, due[1].BookUID)
	}
}

func TestResetFailed(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for _, uid := range []string{"1-1-aa", "1-2-bb", "1-3-cc"} {
		if _, err := repo.GetOrCreate(ctx, testBook(uid)); err != nil {
			t.Fatal(err)
		}
	}
	notBefore := time.Now().Add(time.Hour)
	for _, uid := range []string{"1-1-aa", "1-2-bb"} {
		if ok, err := repo.Transition(ctx, uid, domain.StatusPending, domain.StatusFailed,
			map[string]interface{}{
				"attempt_count": 4,
				"last_error":    "gave up",
				"not_before":    notBefore,
			}); err != nil || !ok {
			t.Fatal(err)
		}
	}

	n, err := repo.ResetFailed(ctx)
	if err != nil {
		t.Fatalf("ResetFailed() error: %v", err)
	}
	if n != 2 {
		t.Errorf("reset %d records, want 2", n)
	}

	for _, uid := range []string{"1-1-aa", "1-2-bb"} {
		rec, err := repo.Get(ctx, uid)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status != domain.StatusPending {
			t.Errorf("%s status = %s, want pending", uid, rec.Status)
		}
		if rec.AttemptCount != 0 {
			t.Errorf("%s attempt_count = %d, want 0", uid, rec.AttemptCount)
		}
		if rec.LastError != "" || rec.NotBefore != nil {
			t.Errorf("%s error/backoff not cleared: %q %v", uid, rec.LastError, rec.NotBefore)
		}
	}
}

func TestRecoverInterrupted(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	uids := []string{"1-1-aa", "1-2-bb", "1-3-cc", "1-4-dd"}
	for _, uid := range uids {
		if _, err := repo.GetOrCreate(ctx, testBook(uid)); err != nil {
			t.Fatal(err)
		}
	}
	for uid, status := range map[string]domain.Status{
		"1-1-aa": domain.StatusResolving,
		"1-2-bb": domain.StatusDownloading,
		"1-3-cc": domain.StatusExtracting,
		"1-4-dd": domain.StatusCompleted,
	} {
		if ok, err := repo.Transition(ctx, uid, domain.StatusPending, status, nil); err != nil || !ok {
			t.Fatal(err)
		}
	}

	n, err := repo.RecoverInterrupted(ctx)
	if err != nil {
		t.Fatalf("RecoverInterrupted() error: %v", err)
	}
	if n != 3 {
		t.Errorf("recovered %d records, want 3", n)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats[domain.StatusPending] != 3 {
		t.Errorf("pending = %d, want 3", stats[domain.StatusPending])
	}
	if stats[domain.StatusCompleted] != 1 {
		t.Errorf("completed = %d, want 1", stats[domain.StatusCompleted])
	}
}

func TestCompletedUIDsAndTotalSize(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for _, uid := range []string{"1-1-aa", "1-2-bb", "1-3-cc"} {
		if _, err := repo.GetOrCreate(ctx, testBook(uid)); err != nil {
			t.Fatal(err)
		}
	}
	for uid, size := range map[string]int64{"1-1-aa": 100, "1-2-bb": 250} {
		if ok, err := repo.Transition(ctx, uid, domain.StatusPending, domain.StatusCompleted,
			map[string]interface{}{"file_size": size}); err != nil || !ok {
			t.Fatal(err)
		}
	}

	completed, err := repo.CompletedUIDs(ctx)
	if err != nil {
		t.Fatalf("CompletedUIDs() error: %v", err)
	}
	if len(completed) != 2 {
		t.Errorf("got %d completed UIDs, want 2", len(completed))
	}
	if _, ok := completed["1-3-cc"]; ok {
		t.Error("pending record reported as completed")
	}

	total, err := repo.TotalSize(ctx)
	if err != nil {
		t.Fatalf("TotalSize() error: %v", err)
	}
	if total != 350 {
		t.Errorf("TotalSize() = %d, want 350", total)
	}
}

func TestListByStatus(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for _, uid := range []string{"1-1-aa", "1-2-bb", "1-3-cc"} {
		if _, err := repo.GetOrCreate(ctx, testBook(uid)); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := repo.ListByStatus(ctx, domain.StatusPending, 2)
	if err != nil {
		t.Fatalf("ListByStatus() error: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("got %d records, want limit of 2", len(recs))
	}

	recs, err = repo.ListByStatus(ctx, domain.StatusFailed, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d failed records, want 0", len(recs))
	}
}
