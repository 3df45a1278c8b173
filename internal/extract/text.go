package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kura/internal/models"
)

type textExtractor struct{}

// Extract reads the file verbatim. Invalid UTF-8 sequences are replaced with U+FFFD.
func (e *textExtractor) Extract(ctx context.Context, state *models.ContentState) (*Result, error) {
	content, err := readInput(state.FilePath)
	if err != nil {
		return nil, err
	}
	return &Result{Content: validUTF8(content)}, nil
}

// validUTF8 returns content as a string with invalid sequences replaced by U+FFFD.
func validUTF8(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	return strings.ToValidUTF8(string(content), "�")
}

// readInput reads a file, mapping a missing path to models.ErrFileNotFound.
func readInput(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", models.ErrFileNotFound)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return content, nil
}
