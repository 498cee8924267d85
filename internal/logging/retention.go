package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RetentionTarget names a directory and a glob of files eligible for pruning.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs deletes files under targets last modified more than
// retentionDays ago. Zero or negative retention keeps everything.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, path := range expiredLogs(cutoff, targets) {
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check permissions on log_dir"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		if logger != nil {
			logger.Info("log pruned", String("path", path), String(FieldEventType, "log_pruned"))
		}
	}
}

func expiredLogs(cutoff time.Time, targets []RetentionTarget) []string {
	keep := map[string]bool{}
	for _, t := range targets {
		for _, p := range t.Exclude {
			keep[absPath(p)] = true
		}
	}

	var out []string
	for _, t := range targets {
		dir := strings.TrimSpace(t.Dir)
		if dir == "" {
			continue
		}
		pattern := strings.TrimSpace(t.Pattern)
		if pattern == "" {
			pattern = "*"
		}
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			path := absPath(m)
			if keep[path] {
				continue
			}
			// Lstat so the current-log symlink is judged on its own mtime.
			info, err := os.Lstat(path)
			if err != nil || info.IsDir() || !info.ModTime().Before(cutoff) {
				continue
			}
			out = append(out, path)
		}
	}
	return out
}

func absPath(p string) string {
	p = strings.TrimSpace(p)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
