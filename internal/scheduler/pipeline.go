package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tywang/bookhaul/internal/domain"
	"github.com/tywang/bookhaul/internal/logger"
	"github.com/tywang/bookhaul/internal/resolver"
	"github.com/tywang/bookhaul/internal/transfer"
)

type outcomeKind int

const (
	// outcomeCompleted: the book finished the whole pipeline.
	outcomeCompleted outcomeKind = iota
	// outcomeDeferred: a retry was scheduled; the record is pending again
	// with a not_before backoff.
	outcomeDeferred
	// outcomeFailed: retries are exhausted; the record is failed.
	outcomeFailed
	// outcomeConflict: a compare-and-swap lost; someone else owns the record.
	outcomeConflict
	// outcomeInterrupted: the run context was cancelled mid-pipeline.
	outcomeInterrupted
)

type pipelineResult struct {
	kind   outcomeKind
	errMsg string
}

// linkInvalidator is implemented by resolvers that cache resolved links.
type linkInvalidator interface {
	Invalidate(link string)
}

// invalidateLink drops any cached CDN link for the share link so the next
// resolve is a real one.
func (s *Scheduler) invalidateLink(link string) {
	if inv, ok := s.resolver.(linkInvalidator); ok {
		inv.Invalidate(link)
	}
}

// runPipeline drives one book through resolve → transfer → extract →
// finalize. The caller already holds the outer gate; the inner gate is
// acquired here only around the resolve call, never across the transfer or
// extraction.
func (s *Scheduler) runPipeline(ctx context.Context, book domain.Book, inner chan struct{}) pipelineResult {
	uid := book.UID()
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldBookUID:  uid,
		logger.FieldCategory: book.Category,
	})
	log := logger.FromContext(ctx)

	rec, err := s.repo.Get(ctx, uid)
	if err != nil {
		log.WithError(err).Error("Ledger read failed, deferring item")
		return pipelineResult{kind: outcomeDeferred, errMsg: err.Error()}
	}
	attempt := rec.AttemptCount + 1
	log = log.WithField(logger.FieldAttempt, attempt)

	// Pending → Resolving. Claims ownership of the record for this pass.
	ok, err := s.repo.Transition(ctx, uid, domain.StatusPending, domain.StatusResolving,
		map[string]interface{}{"attempt_count": attempt})
	if err != nil {
		log.WithError(err).Error("Ledger write failed, deferring item")
		return pipelineResult{kind: outcomeDeferred, errMsg: err.Error()}
	}
	if !ok {
		return pipelineResult{kind: outcomeConflict}
	}

	// The pacer and the inner gate guard only the resolve call: the
	// resolver is the scarce resource, not the download bandwidth.
	if err := s.pacer.Wait(ctx); err != nil {
		return s.interrupt(ctx, uid, domain.StatusResolving, attempt)
	}
	select {
	case inner <- struct{}{}:
	case <-ctx.Done():
		return s.interrupt(ctx, uid, domain.StatusResolving, attempt)
	}

	rctx := ctx
	cancel := func() {}
	if s.cfg.ResolverTimeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, s.cfg.ResolverTimeout)
	}
	link, rerr := s.resolver.Resolve(rctx, book.Link)
	cancel()
	<-inner

	if rerr != nil {
		if ctx.Err() != nil {
			return s.interrupt(ctx, uid, domain.StatusResolving, attempt)
		}
		return s.retryOrFail(ctx, uid, domain.StatusResolving, attempt,
			fmt.Errorf("resolve %s: %w", book.Link, rerr), nil)
	}

	// Resolving → Downloading.
	dest := s.destPath(book, link)
	ok, err = s.repo.Transition(ctx, uid, domain.StatusResolving, domain.StatusDownloading,
		map[string]interface{}{
			"cdn_url":     link.URL,
			"local_path":  dest,
			"total_bytes": link.FileSize,
		})
	if err != nil {
		log.WithError(err).Error("Ledger write failed, deferring item")
		return pipelineResult{kind: outcomeDeferred, errMsg: err.Error()}
	}
	if !ok {
		return pipelineResult{kind: outcomeConflict}
	}

	res, terr := s.download(ctx, uid, link, dest)
	if terr != nil {
		if ctx.Err() != nil {
			// Progress up to the last flushed chunk is already persisted;
			// the .part file stays for the next run to resume.
			return s.interrupt(ctx, uid, domain.StatusDownloading, attempt)
		}
		// The CDN link itself may be the failure cause (expired, rotated);
		// drop any cached copy so the retry resolves a fresh one.
		s.invalidateLink(book.Link)
		return s.retryOrFail(ctx, uid, domain.StatusDownloading, attempt, terr, nil)
	}

	// Downloading → Extracting.
	ok, err = s.repo.Transition(ctx, uid, domain.StatusDownloading, domain.StatusExtracting,
		map[string]interface{}{
			"bytes_downloaded": res.TotalBytes,
			"total_bytes":      res.TotalBytes,
		})
	if err != nil {
		log.WithError(err).Error("Ledger write failed, deferring item")
		return pipelineResult{kind: outcomeDeferred, errMsg: err.Error()}
	}
	if !ok {
		return pipelineResult{kind: outcomeConflict}
	}

	files, eerr := s.extractor.Extract(res.Path, sanitizeFilename(book.Title), s.cfg.Formats, s.cfg.KeepZip)
	if eerr != nil {
		if ctx.Err() != nil {
			return s.interrupt(ctx, uid, domain.StatusExtracting, attempt)
		}
		// The archive may be reused on retry only while its size still
		// matches what was downloaded; anything else is discarded and the
		// item re-resolves from scratch.
		s.invalidateLink(book.Link)
		extra := map[string]interface{}{}
		if !archiveReusable(res.Path, res.TotalBytes) {
			os.Remove(res.Path)
			os.Remove(res.Path + transfer.PartSuffix)
			extra["bytes_downloaded"] = 0
			extra["total_bytes"] = 0
			extra["local_path"] = ""
		}
		return s.retryOrFail(ctx, uid, domain.StatusExtracting, attempt,
			fmt.Errorf("extract %s: %w", filepath.Base(res.Path), eerr), extra)
	}

	localPath := res.Path
	var fileSize int64
	if len(files) > 0 {
		localPath = files[0]
		for _, f := range files {
			if st, err := os.Stat(f); err == nil {
				fileSize += st.Size()
			}
		}
	}

	// Extracting → Completed.
	ok, err = s.repo.Transition(ctx, uid, domain.StatusExtracting, domain.StatusCompleted,
		map[string]interface{}{
			"local_path": localPath,
			"file_size":  fileSize,
			"last_error": "",
			"not_before": nil,
		})
	if err != nil {
		log.WithError(err).Error("Ledger write failed, deferring item")
		return pipelineResult{kind: outcomeDeferred, errMsg: err.Error()}
	}
	if !ok {
		return pipelineResult{kind: outcomeConflict}
	}

	log.WithFields(logger.Fields{
		logger.FieldBytes: fileSize,
		"file":            filepath.Base(localPath),
	}).Info("Download completed")

	return pipelineResult{kind: outcomeCompleted}
}

// download runs the resumable transfer, reusing an archive left by a prior
// attempt when its size matches the resolver's announcement.
func (s *Scheduler) download(ctx context.Context, uid string, link *resolver.ResolvedLink, dest string) (*transfer.Result, error) {
	if link.FileSize > 0 && archiveReusable(dest, link.FileSize) {
		logger.FromContext(ctx).Debug("Archive already on disk, skipping transfer")
		return &transfer.Result{Path: dest, TotalBytes: link.FileSize}, nil
	}

	resumeFrom := partSize(dest)

	// Progress writes must survive run cancellation: the last flushed byte
	// count is exactly what the next run resumes from.
	progressCtx := context.WithoutCancel(ctx)
	return s.fetcher.Fetch(ctx, link.URL, dest, resumeFrom, func(downloaded, total int64) error {
		return s.repo.UpdateProgress(progressCtx, uid, downloaded, total)
	})
}

// retryOrFail converts a pipeline failure into either a backed-off pending
// record (attempt budget left) or a terminal failed record.
func (s *Scheduler) retryOrFail(ctx context.Context, uid string, from domain.Status, attempt int, cause error, extra map[string]interface{}) pipelineResult {
	log := logger.FromContext(ctx).WithField(logger.FieldAttempt, attempt)

	fields := map[string]interface{}{"last_error": cause.Error()}
	for k, v := range extra {
		fields[k] = v
	}

	if attempt <= s.cfg.MaxRetries {
		backoff := s.cfg.RetryBackoff << (attempt - 1)
		notBefore := time.Now().Add(backoff)
		fields["not_before"] = notBefore

		ok, err := s.repo.Transition(ctx, uid, from, domain.StatusPending, fields)
		if err != nil {
			log.WithError(err).Error("Ledger write failed while scheduling retry")
			return pipelineResult{kind: outcomeDeferred, errMsg: cause.Error()}
		}
		if !ok {
			return pipelineResult{kind: outcomeConflict}
		}
		log.WithError(cause).WithField("retry_in", backoff.String()).
			Warnf("Attempt failed, will retry (%d/%d)", attempt, s.cfg.MaxRetries+1)
		return pipelineResult{kind: outcomeDeferred, errMsg: cause.Error()}
	}

	fields["not_before"] = nil
	ok, err := s.repo.Transition(ctx, uid, from, domain.StatusFailed, fields)
	if err != nil {
		log.WithError(err).Error("Ledger write failed while recording failure")
		return pipelineResult{kind: outcomeDeferred, errMsg: cause.Error()}
	}
	if !ok {
		return pipelineResult{kind: outcomeConflict}
	}
	log.WithError(cause).Error("Retries exhausted, item failed")
	return pipelineResult{kind: outcomeFailed, errMsg: cause.Error()}
}

// interrupt parks a record back to pending after a run-level cancellation.
// The pass does not count against the attempt budget.
func (s *Scheduler) interrupt(ctx context.Context, uid string, from domain.Status, attempt int) pipelineResult {
	bg := context.WithoutCancel(ctx)
	if _, err := s.repo.Transition(bg, uid, from, domain.StatusPending,
		map[string]interface{}{
			"attempt_count": attempt - 1,
			"last_error":    "interrupted",
		}); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Ledger write failed while parking interrupted item")
	}
	return pipelineResult{kind: outcomeInterrupted}
}

// destPath builds the archive destination: downloadDir/category/filename.
func (s *Scheduler) destPath(book domain.Book, link *resolver.ResolvedLink) string {
	filename := sanitizeFilename(link.Filename)
	if filename == "" {
		filename = sanitizeFilename(book.Title)
	}
	if filepath.Ext(filename) == "" {
		filename += ".zip"
	}
	categoryDir := sanitizeFilename(book.Category)
	if categoryDir == "" {
		categoryDir = "uncategorized"
	}
	return filepath.Join(s.cfg.DownloadDir, categoryDir, filename)
}

// archiveReusable reports whether a finished archive of the expected size is
// already on disk.
func archiveReusable(path string, expected int64) bool {
	if expected <= 0 {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.Size() == expected
}

// partSize returns the on-disk size of the partial file for dest, 0 if none.
func partSize(dest string) int64 {
	st, err := os.Stat(dest + transfer.PartSuffix)
	if err != nil {
		return 0
	}
	return st.Size()
}
