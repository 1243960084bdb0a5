package scheduler

import (
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

const maxFilenameBytes = 200

// sanitizeFilename makes a string safe as a single path component on common
// filesystems. Overlong names are truncated to 60 runes to leave room for
// the extension and category directory.
func sanitizeFilename(name string) string {
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")
	if len(name) > maxFilenameBytes {
		runes := []rune(name)
		if len(runes) > 60 {
			runes = runes[:60]
		}
		name = strings.Trim(string(runes), ". ")
	}
	return name
}
