// Package vault stores business records as Markdown files, one directory per
// record type: <vault>/<Record Type>/<escaped name>.md.
package vault

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/starford/tiwaz/internal/models"
)

// Provider is the interface for record vault file operations.
type Provider interface {
	// List returns metadata for every record file under dir (relative to vault root).
	List(dir string) ([]models.FileMetadata, error)
	// Read returns the raw bytes of the file at path (relative to vault root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to vault root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to vault root).
	Delete(path string) error
}

const ext = ".md"

// RecordPath returns the vault-relative path of a record file. Names are
// escaped so that ids containing "/" stay a single file.
func RecordPath(recordType, name string) string {
	return recordType + "/" + url.PathEscape(name) + ext
}

// ParsePath is the inverse of RecordPath. It rejects paths that are not
// exactly one type directory deep.
func ParsePath(p string) (recordType, name string, err error) {
	p = strings.ReplaceAll(p, "\\", "/")
	dir, file := path.Split(p)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" || strings.Contains(dir, "/") || !strings.HasSuffix(file, ext) {
		return "", "", fmt.Errorf("vault: not a record path: %s", p)
	}
	name, err = url.PathUnescape(strings.TrimSuffix(file, ext))
	if err != nil {
		return "", "", fmt.Errorf("vault: bad record file name %s: %w", p, err)
	}
	if name == "" {
		return "", "", fmt.Errorf("vault: empty record name: %s", p)
	}
	return dir, name, nil
}
