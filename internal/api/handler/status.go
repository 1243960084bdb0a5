package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tywang/bookhaul/internal/domain"
	"github.com/tywang/bookhaul/internal/repository"
)

// StatusHandler serves read-only views over the download ledger.
type StatusHandler struct {
	repo *repository.RecordRepository
}

// NewStatusHandler creates a status handler backed by the ledger repository.
// Parameters:
//   - repo: download record repository.
// Returns:
//   - *StatusHandler: handler instance.
func NewStatusHandler(repo *repository.RecordRepository) *StatusHandler {
	return &StatusHandler{repo: repo}
}

// Status returns per-status record counts and the total completed size.
func (h *StatusHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.repo.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}
	totalSize, err := h.repo.TotalSize(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}

	counts := make(map[string]int64, len(stats))
	var total int64
	for status, n := range stats {
		counts[string(status)] = n
		total += n
	}

	c.JSON(http.StatusOK, gin.H{
		"total":            total,
		"by_status":        counts,
		"total_size_bytes": totalSize,
	})
}

// recordView is the JSON shape of one ledger record.
type recordView struct {
	BookUID         string `json:"book_uid"`
	Title           string `json:"title"`
	Author          string `json:"author,omitempty"`
	Category        string `json:"category,omitempty"`
	Status          string `json:"status"`
	AttemptCount    int    `json:"attempt_count"`
	BytesDownloaded int64  `json:"bytes_downloaded"`
	TotalBytes      int64  `json:"total_bytes"`
	FileSize        int64  `json:"file_size,omitempty"`
	LocalPath       string `json:"local_path,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

// Records lists ledger records filtered by ?status= with an optional ?limit=.
func (h *StatusHandler) Records(c *gin.Context) {
	statusParam := c.DefaultQuery("status", string(domain.StatusFailed))
	status := domain.Status(statusParam)
	switch status {
	case domain.StatusPending, domain.StatusResolving, domain.StatusDownloading,
		domain.StatusExtracting, domain.StatusCompleted, domain.StatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + statusParam})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit: " + raw})
			return
		}
		limit = parsed
	}

	recs, err := h.repo.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}

	views := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, recordView{
			BookUID:         rec.BookUID,
			Title:           rec.Title,
			Author:          rec.Author,
			Category:        rec.Category,
			Status:          string(rec.Status),
			AttemptCount:    rec.AttemptCount,
			BytesDownloaded: rec.BytesDownloaded,
			TotalBytes:      rec.TotalBytes,
			FileSize:        rec.FileSize,
			LocalPath:       rec.LocalPath,
			LastError:       rec.LastError,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(views),
		"records": views,
	})
}
