// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package fscheck implements the FSCHECK segment: a fingerprint of every
// regular file under a set of critical directories, compared against the
// fingerprint taken on the previous run.
package fscheck

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/go-logr/logr"
)

const SegmentName = "FSCHECK"

// maxLoggedPaths bounds how many changed paths are logged per category.
const maxLoggedPaths = 20

type Collector struct {
	logger       logr.Logger
	roots        []string
	snapshotPath string
}

func New(logger logr.Logger, snapshotPath string, roots []string) *Collector {
	return &Collector{
		logger:       logger.WithName("fscheck"),
		roots:        roots,
		snapshotPath: snapshotPath,
	}
}

// Collect fingerprints the configured directories, records the result as
// the new snapshot and writes the encoded snapshot to w.
func (c *Collector) Collect(ctx context.Context, w io.Writer) error {
	entries, err := c.Walk(ctx)
	if err != nil {
		return err
	}

	data, err := Encode(entries)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	prev, found, err := LoadSnapshot(c.snapshotPath)
	switch {
	case err != nil:
		c.logger.Error(err, "previous snapshot unreadable, starting over", "path", c.snapshotPath)
	case !found:
		c.logger.Info("no previous snapshot, recording baseline", "files", len(entries))
	default:
		c.logDiff(Compare(prev, entries))
	}

	if err := SaveSnapshot(c.snapshotPath, data); err != nil {
		c.logger.Error(err, "failed to save snapshot", "path", c.snapshotPath)
	}

	_, err = w.Write(data)
	return err
}

// Walk fingerprints every regular file under the configured roots, sorted
// by path. Unreadable files and directories are skipped.
func (c *Collector) Walk(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	seen := make(map[string]bool)

	for _, root := range c.roots {
		resolved, err := filepath.EvalSymlinks(root)
		if err != nil {
			c.logger.V(1).Info("skipping root", "root", root, "error", err.Error())
			continue
		}
		if seen[resolved] {
			continue
		}
		seen[resolved] = true

		err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				c.logger.V(1).Info("skipping path with error", "path", path, "error", err.Error())
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if path != resolved && seen[path] {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}

			sum, err := hashFile(path)
			if err != nil {
				c.logger.V(1).Info("skipping unreadable file", "path", path, "error", err.Error())
				return nil
			}
			entries = append(entries, Entry{Path: path, Sum: sum})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	entries = slices.CompactFunc(entries, func(a, b Entry) bool { return a.Path == b.Path })
	return entries, nil
}

func hashFile(path string) ([md5.Size]byte, error) {
	var sum [md5.Size]byte

	f, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

func (c *Collector) logDiff(d Diff) {
	if d.Empty() {
		c.logger.V(1).Info("no filesystem changes")
		return
	}
	c.logger.Info("filesystem changes detected",
		"added", len(d.Added),
		"removed", len(d.Removed),
		"changed", len(d.Changed))
	c.logger.V(1).Info("changed paths",
		"added", truncate(d.Added),
		"removed", truncate(d.Removed),
		"changed", truncate(d.Changed))
}

func truncate(paths []string) []string {
	if len(paths) > maxLoggedPaths {
		return paths[:maxLoggedPaths]
	}
	return paths
}

