// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package environment provides utilities for extracting configuration from environment variables
package environment

import (
	"os"
	"path/filepath"
)

// HostPaths contains the host filesystem paths for containerized environments
type HostPaths struct {
	Proc string // Path to /proc (e.g., /host/proc in containers)
	Sys  string // Path to /sys (e.g., /host/sys in containers)
	Dev  string // Path to /dev (e.g., /host/dev in containers)
	Etc  string // Path to /etc (e.g., /host/etc in containers)
}

// GetHostPaths returns the host filesystem paths from environment variables,
// with defaults if not set.
func GetHostPaths() HostPaths {
	paths := HostPaths{
		Proc: "/proc",
		Sys:  "/sys",
		Dev:  "/dev",
		Etc:  "/etc",
	}

	if procPath := os.Getenv("HOST_PROC"); procPath != "" {
		paths.Proc = procPath
	}
	if sysPath := os.Getenv("HOST_SYS"); sysPath != "" {
		paths.Sys = sysPath
	}
	if devPath := os.Getenv("HOST_DEV"); devPath != "" {
		paths.Dev = devPath
	}
	if etcPath := os.Getenv("HOST_ETC"); etcPath != "" {
		paths.Etc = etcPath
	}

	return paths
}

// ResolvConfPath returns the location of the host's resolv.conf.
func (p HostPaths) ResolvConfPath() string {
	return filepath.Join(p.Etc, "resolv.conf")
}

// ExecutableDir returns the directory holding the running binary, or the
// working directory if it cannot be determined.
func ExecutableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
