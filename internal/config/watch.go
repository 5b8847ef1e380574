// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Watch calls load each time the file at path is written or replaced and
// passes every configuration that loads without error to onChange. It
// blocks until ctx is done.
//
// The parent directory is watched rather than the file so that editors
// replacing the file by rename are noticed.
func Watch(ctx context.Context, logger logr.Logger, path string, load func() (Config, error), onChange func(Config)) error {
	logger = logger.WithName("config.watch")

	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Error(err, "failed to close fs watcher")
		}
	}()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	logger.V(1).Info("watching config file", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			logger.V(1).Info("received file event", "file", event.Name, "op", event.Op)
			cfg, err := load()
			if err != nil {
				logger.Error(err, "failed to reload config file, keeping previous settings", "path", path)
				continue
			}
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error(err, "filesystem watcher error")
		}
	}
}
