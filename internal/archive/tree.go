package archive

import (
	"context"
	"errors"
	"io/fs"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/akmistry/snaptar/internal/util"
)

// AddTree archives everything under root, with names relative to root.
// Regular files, directories and symlinks are archived. Other file types
// are skipped, as are files removed between the directory listing and
// their open. A symlinked root is followed. A root that is not a directory
// returns ErrNotDir.
func (w *Writer) AddTree(ctx context.Context, root string) (Summary, error) {
	if err := w.check(ctx); err != nil {
		return w.Summary(), err
	}
	root, err := resolveRoot(root)
	if err != nil {
		return w.Summary(), err
	}

	startTime := time.Now()
	err = filepath.WalkDir(root, func(fpath string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && fpath != root {
				slog.Warn("archive/Writer: file removed during walk", "path", fpath)
				w.summary.Skipped++
				return nil
			}
			return err
		}
		if err := w.check(ctx); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, fpath)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		mode := d.Type()
		switch {
		case mode.IsDir():
			err = w.AddDir(ctx, fpath, name)
		case mode&fs.ModeSymlink != 0:
			err = w.AddSymlink(ctx, fpath, name)
		case mode.IsRegular():
			_, err = w.AddFile(ctx, fpath, name)
		default:
			slog.Debug("archive/Writer: skipping special file", "path", fpath, "mode", mode)
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) && w.err == nil {
			slog.Warn("archive/Writer: file removed before archiving", "path", fpath)
			w.summary.Skipped++
			if mode.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		return err
	})
	if err != nil {
		return w.Summary(), err
	}

	s := w.Summary()
	slog.Info("archive/Writer: tree archived",
		"root", root,
		"entries", s.Entries,
		"bytes", util.DetailedBytes(s.Bytes),
		"padded", s.Padded,
		"skipped", s.Skipped,
		"duration", time.Since(startTime))
	return s, nil
}

func resolveRoot(root string) (string, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotDir, root)
	}
	if resolved != filepath.Clean(root) {
		slog.Debug("archive/Writer: following symlinked root", "root", root, "target", resolved)
	}
	return resolved, nil
}
