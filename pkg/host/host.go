// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package host provides utilities for host identification
package host

import (
	"os"
	"strings"
)

// Hostname returns the hostname reported by the kernel.
// In particular it returns the hostname of the host machine
// when inside a container. It falls back to os.Hostname when
// the kernel interface is not readable.
func Hostname() (string, error) {
	name, err := hostname()
	if err == nil && name != "" {
		return name, nil
	}
	return os.Hostname()
}

// ShortName returns the first label of a hostname.
func ShortName(hostname string) string {
	short, _, _ := strings.Cut(hostname, ".")
	return short
}
