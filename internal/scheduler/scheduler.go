// Package scheduler admits catalog books into a bounded worker pool and
// drives one download pipeline per admitted book. Two independent gates
// bound the work: the outer gate caps how many pipelines are in flight, the
// inner gate caps how many of those may be resolving a link at once.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tywang/bookhaul/internal/domain"
	"github.com/tywang/bookhaul/internal/logger"
	"github.com/tywang/bookhaul/internal/pacer"
	"github.com/tywang/bookhaul/internal/repository"
	"github.com/tywang/bookhaul/internal/resolver"
	"github.com/tywang/bookhaul/internal/transfer"
)

// Fetcher performs a resumable transfer. Satisfied by *transfer.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string, resumeFrom int64, progress transfer.ProgressFunc) (*transfer.Result, error)
}

// Extractor extracts wanted members from a completed archive. Satisfied by
// *extractor.Extractor.
type Extractor interface {
	Extract(archivePath, title string, formats []string, keepZip bool) ([]string, error)
}

// Config holds scheduler configuration.
type Config struct {
	// TaskConcurrency is the outer gate capacity: pipelines in flight.
	TaskConcurrency int
	// ResolverConcurrency is the inner gate capacity: concurrent resolves.
	ResolverConcurrency int
	MaxRetries          int
	RetryBackoff        time.Duration
	ResolverTimeout     time.Duration
	DownloadDir         string
	Formats             []string
	KeepZip             bool
	// PollInterval is how often the admission loop rescans the ledger for
	// due records (retry backoffs becoming eligible).
	PollInterval time.Duration
}

// Summary aggregates the terminal outcomes of one run.
type Summary struct {
	Total       int
	Completed   int
	Failed      int
	Skipped     int
	Interrupted int
	// FailedItems maps book UID to the last error, for follow-up runs.
	FailedItems map[string]string
}

// Scheduler owns the admission gates and the ledger-driven run loop.
type Scheduler struct {
	cfg       *Config
	repo      *repository.RecordRepository
	resolver  resolver.Resolver
	fetcher   Fetcher
	extractor Extractor
	pacer     *pacer.Pacer
	log       *logger.Logger
}

// New creates a Scheduler. Gate capacities below 1 are clamped to 1.
// Parameters:
//   - cfg: scheduler configuration.
//   - repo: job ledger.
//   - res: link resolver (inner-gated collaborator).
//   - fetcher: resumable transfer implementation.
//   - ext: archive extractor.
//   - pace: shared rate pacer guarding resolver calls.
//   - log: logger; nil uses the default logger.
// Returns:
//   - *Scheduler: ready-to-run scheduler.
func New(cfg *Config, repo *repository.RecordRepository, res resolver.Resolver, fetcher Fetcher, ext Extractor, pace *pacer.Pacer, log *logger.Logger) *Scheduler {
	if cfg.TaskConcurrency < 1 {
		cfg.TaskConcurrency = 1
	}
	if cfg.ResolverConcurrency < 1 {
		cfg.ResolverConcurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Scheduler{
		cfg:       cfg,
		repo:      repo,
		resolver:  res,
		fetcher:   fetcher,
		extractor: ext,
		pacer:     pace,
		log:       log,
	}
}

// Run downloads every book in the set, skipping already-completed ones, and
// returns once all are terminal or the context is cancelled. Per-item
// failures never surface as errors; they are counted in the Summary. The
// only error return is the ledger being unreachable at startup.
// Parameters:
//   - ctx: run-level context; cancellation stops admissions and lets
//     in-flight pipelines checkpoint and exit.
//   - books: catalog items to download.
// Returns:
//   - *Summary: terminal outcome counts and failed-item errors.
//   - error: non-nil only when the ledger is unusable before admission.
func (s *Scheduler) Run(ctx context.Context, books []domain.Book) (*Summary, error) {
	runID := uuid.New().String()[:8]
	ctx = s.log.WithField(logger.FieldRunID, runID).WithContext(ctx)
	log := logger.FromContext(ctx)

	// Records orphaned in-flight by a crash resume as pending.
	recovered, err := s.repo.RecoverInterrupted(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: ledger unreachable: %w", err)
	}
	if recovered > 0 {
		log.WithField("count", recovered).Info("Recovered interrupted records from previous run")
	}

	completed, err := s.repo.CompletedUIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: ledger unreachable: %w", err)
	}

	summary := &Summary{Total: len(books), FailedItems: make(map[string]string)}
	remaining := make(map[string]domain.Book, len(books))

	sorted := make([]domain.Book, len(books))
	copy(sorted, books)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UID() < sorted[j].UID() })

	for _, book := range sorted {
		uid := book.UID()
		if _, done := completed[uid]; done {
			summary.Skipped++
			continue
		}
		if _, err := s.repo.GetOrCreate(ctx, book); err != nil {
			return nil, fmt.Errorf("scheduler: ledger unreachable: %w", err)
		}
		remaining[uid] = book
	}

	if len(remaining) == 0 {
		log.WithField("skipped", summary.Skipped).Info("Nothing to download")
		return summary, nil
	}

	log.WithFields(logger.Fields{
		"pending":              len(remaining),
		"skipped":              summary.Skipped,
		"task_concurrency":     s.cfg.TaskConcurrency,
		"resolver_concurrency": s.cfg.ResolverConcurrency,
	}).Info("Starting download run")

	outer := make(chan struct{}, s.cfg.TaskConcurrency)
	inner := make(chan struct{}, s.cfg.ResolverConcurrency)
	inflight := make(map[string]struct{})
	var mu sync.Mutex
	var wg sync.WaitGroup

admission:
	for {
		mu.Lock()
		left := len(remaining)
		mu.Unlock()
		if left == 0 || ctx.Err() != nil {
			break
		}

		due, err := s.repo.ListDue(ctx, time.Now())
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.WithError(err).Error("Failed to scan ledger for due records")
		}

		for _, rec := range due {
			uid := rec.BookUID
			mu.Lock()
			book, wanted := remaining[uid]
			_, busy := inflight[uid]
			if wanted && !busy {
				inflight[uid] = struct{}{}
			}
			mu.Unlock()
			if !wanted || busy {
				continue
			}

			select {
			case outer <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				delete(inflight, uid)
				mu.Unlock()
				break admission
			}

			wg.Add(1)
			go func(book domain.Book) {
				defer func() {
					<-outer
					wg.Done()
				}()
				res := s.runPipeline(ctx, book, inner)

				mu.Lock()
				defer mu.Unlock()
				uid := book.UID()
				delete(inflight, uid)
				switch res.kind {
				case outcomeCompleted:
					summary.Completed++
					delete(remaining, uid)
				case outcomeFailed:
					summary.Failed++
					summary.FailedItems[uid] = res.errMsg
					delete(remaining, uid)
				case outcomeConflict:
					// Another owner holds the record; not ours to finish.
					summary.Skipped++
					delete(remaining, uid)
				case outcomeInterrupted:
					summary.Interrupted++
					delete(remaining, uid)
				case outcomeDeferred:
					// Stays in remaining; re-admitted once not_before passes.
				}
			}(book)
		}

		select {
		case <-ctx.Done():
			break admission
		case <-time.After(s.cfg.PollInterval):
		}
	}

	wg.Wait()

	log.WithFields(logger.Fields{
		"completed":   summary.Completed,
		"failed":      summary.Failed,
		"skipped":     summary.Skipped,
		"interrupted": summary.Interrupted,
	}).Info("Download run finished")

	return summary, nil
}
