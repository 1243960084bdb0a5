// Package extractor pulls ebook members out of downloaded zip archives.
package extractor

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tywang/bookhaul/internal/logger"
	"golang.org/x/text/encoding/simplifiedchinese"
)

var (
	// ErrCorruptArchive means the file is not a readable zip archive.
	ErrCorruptArchive = errors.New("extractor: corrupt archive")
	// ErrNoMatchingMember means no archive member matched the wanted formats.
	ErrNoMatchingMember = errors.New("extractor: no matching member")
)

// Extractor extracts selected members from completed archives.
type Extractor struct {
	log *logger.Logger
}

// New creates an Extractor.
func New(log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Extractor{log: log}
}

// Extract pulls members matching the wanted formats out of the archive into
// the archive's directory, named title+ext. The archive is removed afterwards
// unless keepZip is set; it is kept on any error so a retry can reuse it.
// Parameters:
//   - archivePath: completed zip file.
//   - title: sanitized book title used to name extracted files.
//   - formats: wanted extensions without dots, e.g. ["epub", "azw3"].
//   - keepZip: keep the archive after successful extraction.
// Returns:
//   - []string: extracted file paths.
//   - error: ErrCorruptArchive, ErrNoMatchingMember, or a wrapped I/O error.
func (e *Extractor) Extract(archivePath, title string, formats []string, keepZip bool) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer reader.Close()

	wanted := make(map[string]struct{}, len(formats))
	for _, f := range formats {
		wanted["."+strings.ToLower(strings.TrimPrefix(f, "."))] = struct{}{}
	}

	destDir := filepath.Dir(archivePath)
	var extracted []string

	for _, member := range reader.File {
		if member.FileInfo().IsDir() {
			continue
		}

		name := decodeMemberName(member)
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := wanted[ext]; !ok {
			continue
		}

		finalPath := filepath.Join(destDir, title+ext)
		if _, err := os.Stat(finalPath); err == nil {
			e.log.WithField("file", filepath.Base(finalPath)).Debug("Already extracted, skipping")
			extracted = append(extracted, finalPath)
			continue
		}

		if err := e.extractMember(member, finalPath); err != nil {
			return extracted, err
		}
		extracted = append(extracted, finalPath)
		e.log.WithFields(logger.Fields{
			"member": name,
			"file":   filepath.Base(finalPath),
		}).Debug("Extracted archive member")
	}

	if len(extracted) == 0 {
		return nil, fmt.Errorf("%w: wanted %s in %s",
			ErrNoMatchingMember, strings.Join(formats, ","), filepath.Base(archivePath))
	}

	if !keepZip {
		if err := os.Remove(archivePath); err != nil {
			e.log.WithError(err).Warn("Failed to remove archive after extraction")
		}
	}

	return extracted, nil
}

// extractMember copies one archive member to finalPath.
func (e *Extractor) extractMember(member *zip.File, finalPath string) error {
	src, err := member.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer src.Close()

	dst, err := os.Create(finalPath)
	if err != nil {
		return fmt.Errorf("extractor: create %s: %w", finalPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(finalPath)
		return fmt.Errorf("extractor: write %s: %w", finalPath, err)
	}
	return dst.Sync()
}

// decodeMemberName repairs member names from archives packed on Chinese
// Windows, where names are stored as GBK bytes. Go exposes those bytes
// verbatim when the UTF-8 flag is unset.
func decodeMemberName(member *zip.File) string {
	if !member.NonUTF8 {
		return member.Name
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().String(member.Name)
	if err != nil {
		return member.Name
	}
	return decoded
}
