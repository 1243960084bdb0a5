package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
)

// Fetch downloads the catalog JSON from url, validates it, and writes it to
// destPath. The existing file is only replaced once the new payload parses.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - url: catalog source URL.
//   - destPath: local file to write.
// Returns:
//   - int: number of valid book entries in the fetched catalog.
//   - error: non-nil if the download, validation, or write fails.
func Fetch(ctx context.Context, url, destPath string) (int, error) {
	client := resty.New().
		SetTimeout(60 * time.Second)

	resp, err := client.R().SetContext(ctx).Get(url)
	if err != nil {
		return 0, fmt.Errorf("catalog: fetch %s: %w", url, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("catalog: fetch %s: status %d", url, resp.StatusCode())
	}

	parsed, err := Parse(resp.Body())
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, fmt.Errorf("catalog: create data dir: %w", err)
	}
	if err := os.WriteFile(destPath, resp.Body(), 0644); err != nil {
		return 0, fmt.Errorf("catalog: write %s: %w", destPath, err)
	}

	return parsed.Len(), nil
}
