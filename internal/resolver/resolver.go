// Package resolver turns catalog share links into short-lived CDN download
// URLs. The scheduler treats it as an expensive, rate-limited collaborator:
// every call is guarded by the inner concurrency gate and the rate pacer.
package resolver

import (
	"context"
	"errors"
	"time"
)

// Resolution error kinds. Callers classify failures with errors.Is.
var (
	// ErrNotFound means the remote reports the file as missing or deleted.
	ErrNotFound = errors.New("resolver: file not found")
	// ErrBlocked means the remote refused the request (abuse control, auth).
	ErrBlocked = errors.New("resolver: blocked by remote")
	// ErrTimeout means the resolution did not finish within the deadline.
	ErrTimeout = errors.New("resolver: timed out")
)

// ResolvedLink is a direct CDN transfer URL plus its expiry characteristics.
type ResolvedLink struct {
	URL      string
	Filename string
	FileSize int64
	// ExpiresAt is when the URL stops being usable. Zero if unknown.
	ExpiresAt time.Time
}

// Resolver resolves a share link into a direct download link.
type Resolver interface {
	// Resolve returns the CDN link for the given share link.
	// Parameters:
	//   - ctx: context carrying the per-call deadline.
	//   - link: the book's share link (source_ref).
	// Returns:
	//   - *ResolvedLink: direct transfer URL and metadata.
	//   - err: one of the kind errors above, or a wrapped unknown failure.
	Resolve(ctx context.Context, link string) (*ResolvedLink, error)
}
