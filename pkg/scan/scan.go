// Package scan counts what a filtered transfer would carry before it runs.
//
// The walk follows the same producer/consumer layout as a sync run:
//
//  1. A single producer walks the tree with filepath.WalkDir, evaluates the
//     filter rules and prunes excluded directories without descending into them.
//  2. A bounded pool of workers takes the surviving entries and resolves their
//     size with Lstat, adding to shared atomic counters.
//
// Both sides run in one errgroup, so the first walk error or a cancelled context
// stops the whole scan.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-rsync/pkg/filterrule"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
)

// ErrNotDirectory is returned when the scan root is not a directory.
var ErrNotDirectory = errors.New("scan root is not a directory")

// Result holds the totals of a scan. Symlinks are counted as files with the
// size of the link itself, the way rsync transfers them in archive mode.
type Result struct {
	Files int64
	Dirs  int64
	Bytes int64
}

// Scanner walks directory trees.
type Scanner struct {
	numWorkers int
}

// New returns a Scanner using numWorkers concurrent stat workers.
// numWorkers < 1 falls back to the number of CPUs.
func New(numWorkers int) *Scanner {
	if numWorkers < 1 {
		numWorkers = runtime.NumCPU()
	}
	return &Scanner{numWorkers: numWorkers}
}

// scanItem is a single non-excluded entry handed from the producer to a worker.
type scanItem struct {
	relPath string
	entry   fs.DirEntry
}

type counters struct {
	files atomic.Int64
	dirs  atomic.Int64
	bytes atomic.Int64
}

// Scan walks root and totals every entry the rules let through. The root itself is not counted.
func (s *Scanner) Scan(ctx context.Context, root string, rules filterrule.Rules) (Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Result{}, fmt.Errorf("could not stat scan root %s: %w", root, err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	matcher, err := rules.Compile()
	if err != nil {
		return Result{}, err
	}

	g, ctx := errgroup.WithContext(ctx)
	items := make(chan scanItem, s.numWorkers*4)
	var c counters

	g.Go(func() error {
		defer close(items)
		return s.produce(ctx, root, matcher, items)
	})

	for range s.numWorkers {
		g.Go(func() error {
			return s.consume(ctx, root, items, &c)
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Files: c.files.Load(), Dirs: c.dirs.Load(), Bytes: c.bytes.Load()}
	plog.Debug("Scan complete", "root", root, "files", res.Files, "dirs", res.Dirs, "bytes", res.Bytes)
	return res, nil
}

func (s *Scanner) produce(ctx context.Context, root string, matcher *filterrule.Matcher, items chan<- scanItem) error {
	return filepath.WalkDir(root, func(absPath string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			// Unreadable subdirectories are skipped, the way rsync does.
			if absPath != root && d != nil && d.IsDir() {
				plog.Warn("Skipping unreadable directory", "path", absPath, "error", walkErr)
				return filepath.SkipDir
			}
			return walkErr
		}
		if absPath == root {
			return nil
		}

		rel, err := filepath.Rel(root, absPath)
		if err != nil {
			return fmt.Errorf("could not determine relative path for %s: %w", absPath, err)
		}
		rel = filepath.ToSlash(rel)

		if !matcher.Included(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		select {
		case items <- scanItem{relPath: rel, entry: d}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (s *Scanner) consume(ctx context.Context, root string, items <-chan scanItem, c *counters) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-items:
			if !ok {
				return nil
			}
			if item.entry.IsDir() {
				c.dirs.Add(1)
				continue
			}
			info, err := item.entry.Info()
			if err != nil {
				// Vanished between walk and stat.
				if errors.Is(err, fs.ErrNotExist) {
					plog.Debug("Entry vanished during scan", "path", item.relPath)
					continue
				}
				return fmt.Errorf("could not stat %s: %w", filepath.Join(root, filepath.FromSlash(item.relPath)), err)
			}
			c.files.Add(1)
			c.bytes.Add(info.Size())
		}
	}
}
