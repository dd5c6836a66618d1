package filesend

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// CleanupTmp removes stale daily subdirectories under
// <dataDir>/users/<uid>/files/tmp/, keeping only today's yyyymmdd
// directory. Transient thumbnails and resized bodies are only needed for
// the duration of one upload, so anything from a previous day is garbage.
func CleanupTmp(dataDir, uid string, now time.Time) error {
	tmpRoot := filepath.Join(dataDir, "users", uid, "files", "tmp")
	entries, err := os.ReadDir(tmpRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("filesend: read tmp dir: %w", err)
	}

	today := now.Format("20060102")
	for _, e := range entries {
		if !e.IsDir() || e.Name() == today {
			continue
		}
		dir := filepath.Join(tmpRoot, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("tmp cleanup failed", "dir", dir, "err", err)
			continue
		}
		slog.Debug("tmp dir removed", "dir", dir)
	}
	return nil
}
