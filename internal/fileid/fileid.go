// Package fileid derives stable source IDs for files picked up from watched directories.
package fileid

import (
	"path/filepath"

	"github.com/google/uuid"
)

// SourceID returns a deterministic source ID for path. The path is cleaned and made absolute
// first, so equivalent spellings of one file share an ID and re-ingesting it replaces the
// previous source.
func SourceID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(filepath.Clean(path)))).String()
}
