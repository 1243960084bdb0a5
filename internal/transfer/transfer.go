// Package transfer implements the byte-range-aware HTTP download with
// resume-from-offset. A transfer streams into a ".part" file and renames it
// to the final path on success; that rename is the single commit point. The
// on-disk partial file is always flushed before progress is reported, so the
// persisted byte count never exceeds what is durably on disk.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tywang/bookhaul/internal/logger"
)

// PartSuffix is appended to the destination path while a transfer is in
// progress.
const PartSuffix = ".part"

const (
	chunkSize = 64 * 1024
	// defaultProgressEvery is how many bytes may accumulate between flush +
	// progress callbacks.
	defaultProgressEvery int64 = 1 << 20
)

var (
	// ErrLengthMismatch means the stream ended before the announced length.
	ErrLengthMismatch = errors.New("transfer: incomplete download")
	// ErrTooLarge means the remote announced a size over the configured cap.
	ErrTooLarge = errors.New("transfer: file exceeds size limit")
)

// ProgressFunc receives durable progress: bytes flushed to disk so far and
// the expected total (0 if unknown). Returning an error aborts the transfer.
type ProgressFunc func(bytesDownloaded, totalBytes int64) error

// Result describes a finished transfer.
type Result struct {
	// BytesWritten is how many bytes this call streamed (excludes resumed
	// bytes already on disk).
	BytesWritten int64
	// TotalBytes is the final size of the completed file.
	TotalBytes int64
	Path       string
}

// Fetcher performs resumable downloads.
type Fetcher struct {
	client        *resty.Client
	log           *logger.Logger
	maxBytes      int64
	progressEvery int64
}

// FetcherConfig holds transfer configuration.
type FetcherConfig struct {
	Timeout time.Duration
	// MaxBytes rejects files whose announced size exceeds it; 0 disables.
	MaxBytes int64
	// ProgressEvery overrides the flush/report cadence in bytes.
	ProgressEvery int64
	UserAgent     string
}

// NewFetcher creates a Fetcher.
// Parameters:
//   - cfg: transfer configuration; nil uses defaults.
//   - log: logger; nil uses the default logger.
// Returns:
//   - *Fetcher: ready-to-use fetcher.
func NewFetcher(cfg *FetcherConfig, log *logger.Logger) *Fetcher {
	if cfg == nil {
		cfg = &FetcherConfig{}
	}
	if log == nil {
		log = logger.GetDefault()
	}

	client := resty.New()
	client.SetDoNotParseResponse(true)
	// Compression would desync Content-Length from bytes on disk.
	client.SetHeader("Accept-Encoding", "identity")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	every := cfg.ProgressEvery
	if every <= 0 {
		every = defaultProgressEvery
	}

	return &Fetcher{
		client:        client,
		log:           log,
		maxBytes:      cfg.MaxBytes,
		progressEvery: every,
	}
}

// Fetch downloads url into dest, resuming from resumeFrom when the remote
// supports ranged requests. A non-partial response to a range request
// restarts from zero and truncates the partial file rather than corrupting
// it with a misaligned append.
// Parameters:
//   - ctx: context for cancellation; on cancel the partial file is flushed
//     and progress reported before returning.
//   - url: direct CDN transfer URL.
//   - dest: final file path; data streams into dest+".part" until complete.
//   - resumeFrom: byte offset to resume from, clamped to the partial file's
//     actual on-disk size.
//   - progress: durable-progress callback; may be nil.
// Returns:
//   - *Result: byte counts and final path on success.
//   - error: non-nil on any failure; the partial file is kept for resume
//     except when the announced size exceeds the configured cap.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string, resumeFrom int64, progress ProgressFunc) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("transfer: create dest dir: %w", err)
	}
	part := dest + PartSuffix

	// The .part file on disk is the source of truth for what was written;
	// never resume past it.
	onDisk := int64(0)
	if st, err := os.Stat(part); err == nil {
		onDisk = st.Size()
	}
	if resumeFrom > onDisk {
		resumeFrom = onDisk
	}

	req := f.client.R().SetContext(ctx)
	if resumeFrom > 0 {
		req.SetHeader("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, fmt.Errorf("transfer: request failed: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	var total int64
	var file *os.File

	switch resp.StatusCode() {
	case http.StatusRequestedRangeNotSatisfiable:
		// The remote says our offset is at or past the end; the partial
		// file is likely already complete.
		if onDisk > 0 {
			if err := os.Rename(part, dest); err != nil {
				return nil, fmt.Errorf("transfer: finalize: %w", err)
			}
			return &Result{BytesWritten: 0, TotalBytes: onDisk, Path: dest}, nil
		}
		return nil, fmt.Errorf("transfer: range not satisfiable with no partial file")

	case http.StatusPartialContent:
		total = totalFromContentRange(resp.Header().Get("Content-Range"))
		file, err = os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)

	case http.StatusOK:
		if resumeFrom > 0 {
			// The remote ignored the range request. Appending a full
			// response to a partial file would corrupt it; start over.
			f.log.WithField("dest", filepath.Base(dest)).
				Warn("Remote does not support resume, restarting from zero")
			resumeFrom = 0
		}
		total = resp.RawResponse.ContentLength
		if total < 0 {
			total = 0
		}
		file, err = os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)

	default:
		return nil, fmt.Errorf("transfer: unexpected status %d", resp.StatusCode())
	}
	if err != nil {
		return nil, fmt.Errorf("transfer: open partial file: %w", err)
	}
	defer file.Close()

	if f.maxBytes > 0 && total > f.maxBytes {
		file.Close()
		os.Remove(part)
		return nil, fmt.Errorf("%w: %d bytes announced, limit %d", ErrTooLarge, total, f.maxBytes)
	}

	written, copyErr := f.stream(ctx, body, file, resumeFrom, total, progress)
	downloaded := resumeFrom + written

	// Flush whatever made it to the file, then report accurate progress,
	// even on failure: the record must never claim more than disk holds,
	// and should claim as much as disk holds.
	syncErr := finalizeProgress(file, downloaded, total, progress)

	if copyErr != nil {
		return nil, copyErr
	}
	if syncErr != nil {
		return nil, fmt.Errorf("transfer: flush: %w", syncErr)
	}

	if total > 0 && downloaded != total {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrLengthMismatch, downloaded, total)
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("transfer: close partial file: %w", err)
	}
	if err := os.Rename(part, dest); err != nil {
		return nil, fmt.Errorf("transfer: finalize: %w", err)
	}

	if total == 0 {
		total = downloaded
	}
	return &Result{BytesWritten: written, TotalBytes: total, Path: dest}, nil
}

// stream copies body into file in chunks, flushing and reporting progress
// every progressEvery bytes. Returns bytes written by this call.
func (f *Fetcher) stream(ctx context.Context, body io.Reader, file *os.File, resumeFrom, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, chunkSize)
	var written, sinceReport int64

	for {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("transfer: cancelled: %w", err)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("transfer: write: %w", err)
			}
			written += int64(n)
			sinceReport += int64(n)

			if sinceReport >= f.progressEvery {
				if err := file.Sync(); err != nil {
					return written, fmt.Errorf("transfer: flush: %w", err)
				}
				if progress != nil {
					if err := progress(resumeFrom+written, total); err != nil {
						return written, fmt.Errorf("transfer: progress persist: %w", err)
					}
				}
				sinceReport = 0
			}
		}

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("transfer: read: %w", readErr)
		}
	}
}

// finalizeProgress flushes the partial file and reports the final accurate
// byte count. Progress is only reported when the flush succeeded, so the
// ledger never records bytes that may not be durable.
func finalizeProgress(file *os.File, downloaded, total int64, progress ProgressFunc) error {
	if err := file.Sync(); err != nil {
		return err
	}
	if progress != nil {
		_ = progress(downloaded, total)
	}
	return nil
}

// totalFromContentRange parses the complete length out of a Content-Range
// header like "bytes 100-999/1000". Returns 0 when unknown.
func totalFromContentRange(header string) int64 {
	i := strings.LastIndexByte(header, '/')
	if i < 0 {
		return 0
	}
	total, err := strconv.ParseInt(header[i+1:], 10, 64)
	if err != nil || total < 0 {
		return 0
	}
	return total
}
