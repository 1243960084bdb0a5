package domain

import "time"

// Status represents the download lifecycle state of one book.
// Values include StatusPending, StatusResolving, StatusDownloading,
// StatusExtracting, StatusCompleted, and StatusFailed.
type Status string

const (
	StatusPending     Status = "pending"
	StatusResolving   Status = "resolving"
	StatusDownloading Status = "downloading"
	StatusExtracting  Status = "extracting"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether the status ends the item's lifecycle. Failed is
// terminal only until an explicit reset moves it back to pending.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InFlight reports whether the status marks a record as owned by a running
// pipeline. Records found in-flight at startup were orphaned by a crash and
// are recovered to pending.
func (s Status) InFlight() bool {
	return s == StatusResolving || s == StatusDownloading || s == StatusExtracting
}

// DownloadRecord is the persisted state of one book's download lifecycle,
// keyed by the book UID. It is the unit of crash recovery: the scheduler
// trusts the record (plus the on-disk .part file) over anything in memory.
type DownloadRecord struct {
	BookUID  string `gorm:"type:text;primaryKey" json:"book_uid"`
	Title    string `gorm:"type:text;not null" json:"title"`
	Author   string `gorm:"type:text;not null;default:''" json:"author"`
	Category string `gorm:"type:text;not null;default:'';index" json:"category"`
	Link     string `gorm:"type:text;not null" json:"link"`

	Status       Status `gorm:"type:text;default:pending;index" json:"status"`
	AttemptCount int    `gorm:"default:0" json:"attempt_count"`

	// LocalPath is the archive path while downloading/extracting and the
	// first extracted ebook path once completed.
	LocalPath       string `gorm:"type:text;default:''" json:"local_path"`
	BytesDownloaded int64  `gorm:"default:0" json:"bytes_downloaded"`
	TotalBytes      int64  `gorm:"default:0" json:"total_bytes"`
	FileSize        int64  `gorm:"default:0" json:"file_size"`
	CDNUrl          string `gorm:"type:text;default:''" json:"cdn_url"`

	LastError string     `gorm:"type:text;default:''" json:"last_error"`
	NotBefore *time.Time `json:"not_before,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for DownloadRecord.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (DownloadRecord) TableName() string {
	return "download_records"
}

// Due reports whether the record is eligible for admission at the given
// time: pending and past its retry backoff, if any.
func (r *DownloadRecord) Due(now time.Time) bool {
	if r.Status != StatusPending {
		return false
	}
	return r.NotBefore == nil || !now.Before(*r.NotBefore)
}
