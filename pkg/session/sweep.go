package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/multierr"

	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/logger"
)

// Sweep keeps the keepLatest newest session directories under baseDir and
// removes the rest. Session ids embed their creation time, so a descending
// name sort is newest first. A directory that cannot be removed is logged
// and skipped; all such failures are returned together.
func Sweep(baseDir string, keepLatest int, log logger.Logger) error {
	return SweepFunc(baseDir, keepLatest, log, nil)
}

// SweepFunc is Sweep with a callback run for each session id after its
// directory is removed.
func SweepFunc(baseDir string, keepLatest int, log logger.Logger, onRemove func(id string)) error {
	op := "clean old sessions"
	if keepLatest < 0 {
		return errs.Errorf(errs.KindValidation, op, fmt.Sprintf("keep_latest must be non-negative, got %d", keepLatest))
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return errs.E(errs.KindNotFound, op, err)
		}
		return errs.E(errs.KindIOFailure, op, err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))

	if len(dirs) <= keepLatest {
		return nil
	}

	var failed error
	for _, name := range dirs[keepLatest:] {
		path := filepath.Join(baseDir, name)
		if err := removeSession(path); err != nil {
			log.Error("failed to delete session folder", "path", path, "error", err)
			failed = multierr.Append(failed, fmt.Errorf("%s: %w", name, err))
			continue
		}
		log.Info("old session folder deleted", "path", path)
		if onRemove != nil {
			onRemove(name)
		}
	}

	if failed != nil {
		return errs.E(errs.KindIOFailure, op, failed)
	}
	return nil
}

// Sweep applies the retention policy to this store's base directory.
func (s *Store) Sweep(keepLatest int) error {
	return Sweep(s.baseDir, keepLatest, s.log)
}

func removeSession(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return os.Remove(dir)
}
