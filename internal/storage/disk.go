package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kura/internal/config"
)

// ScratchPrefix names the temporary directories kura creates for uploads, staged objects and
// media transcription.
const ScratchPrefix = "kura-"

// DiskUsage is the space kura occupies on local disk, per component.
type DiskUsage struct {
	Database int64 `json:"database_bytes"`
	Index    int64 `json:"index_bytes"`
	Scratch  int64 `json:"scratch_bytes"`
}

// Total sums every component.
func (u DiskUsage) Total() int64 { return u.Database + u.Index + u.Scratch }

// MeasureDiskUsage reports the local footprint described by cfg. For SQLite the database
// includes its -wal and -shm side files; a Postgres database is remote and counts as zero.
// Scratch covers the kura-* directories under each of scratchDirs, i.e. work in flight or
// left behind by a crash. Missing paths count as zero.
func MeasureDiskUsage(cfg config.StorageConfig, scratchDirs ...string) (DiskUsage, error) {
	var u DiskUsage
	var err error
	if cfg.Driver == "sqlite" && cfg.DatabasePath != "" {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			n, err := pathSize(cfg.DatabasePath + suffix)
			if err != nil {
				return DiskUsage{}, err
			}
			u.Database += n
		}
	}
	if u.Index, err = pathSize(cfg.BleveIndexPath); err != nil {
		return DiskUsage{}, err
	}

	seen := map[string]bool{}
	for _, dir := range scratchDirs {
		if dir == "" {
			continue
		}
		dir = filepath.Clean(dir)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		n, err := scratchSize(dir)
		if err != nil {
			return DiskUsage{}, err
		}
		u.Scratch += n
	}
	return u, nil
}

func scratchSize(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), ScratchPrefix) {
			continue
		}
		n, err := pathSize(filepath.Join(dir, e.Name()))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// pathSize returns the size of a file, or of every file under a directory.
func pathSize(p string) (int64, error) {
	if p == "" {
		return 0, nil
	}
	var total int64
	err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	return total, err
}
