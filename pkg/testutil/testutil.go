// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package testutil provides test helpers for code that reads host state.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antimetal/armt/pkg/config/environment"
)

// RequireLinux skips the test if not running on Linux.
func RequireLinux(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("Test requires Linux")
	}
}

// RequireLinuxFilesystem verifies that /proc and /sys are available.
func RequireLinuxFilesystem(t *testing.T) {
	t.Helper()
	RequireLinux(t)

	if _, err := os.Stat("/proc/self"); err != nil {
		t.Skipf("Test requires /proc filesystem: %v", err)
	}
	if _, err := os.Stat("/sys/block"); err != nil {
		t.Skipf("Test requires /sys filesystem: %v", err)
	}
}

// RequireRoot checks if the test is running as root.
func RequireRoot(t *testing.T) {
	t.Helper()
	RequireLinux(t)

	if os.Geteuid() != 0 {
		t.Skip("Test requires root privileges")
	}
}

// RequireCommand skips the test unless name is found in $PATH.
func RequireCommand(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("Test requires %s: %v", name, err)
	}
}

// HostTree is a fake host filesystem rooted in a temporary directory.
type HostTree struct {
	t     *testing.T
	Paths environment.HostPaths
}

// NewHostTree creates empty proc, sys, dev and etc directories.
func NewHostTree(t *testing.T) *HostTree {
	t.Helper()
	root := t.TempDir()
	h := &HostTree{
		t: t,
		Paths: environment.HostPaths{
			Proc: filepath.Join(root, "proc"),
			Sys:  filepath.Join(root, "sys"),
			Dev:  filepath.Join(root, "dev"),
			Etc:  filepath.Join(root, "etc"),
		},
	}
	for _, dir := range []string{h.Paths.Proc, h.Paths.Sys, h.Paths.Dev, h.Paths.Etc} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}
	return h
}

// WriteFile writes content to name relative to base, creating parents.
func (h *HostTree) WriteFile(base, name, content string) string {
	h.t.Helper()
	path := filepath.Join(base, name)
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// Mkdir creates the directory name relative to base.
func (h *HostTree) Mkdir(base, name string) string {
	h.t.Helper()
	path := filepath.Join(base, name)
	require.NoError(h.t, os.MkdirAll(path, 0755))
	return path
}

// Setenv points the HOST_* variables read by environment.GetHostPaths at
// the tree for the duration of the test.
func (h *HostTree) Setenv() {
	h.t.Setenv("HOST_PROC", h.Paths.Proc)
	h.t.Setenv("HOST_SYS", h.Paths.Sys)
	h.t.Setenv("HOST_DEV", h.Paths.Dev)
	h.t.Setenv("HOST_ETC", h.Paths.Etc)
}
