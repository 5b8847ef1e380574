// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package diskcheck implements the DISKCHECK segment: disk health from
// SMART and CCISS controllers, software RAID state and filesystem usage.
//
// Probe failures are recorded in the report rather than failing the
// segment, so the server always learns which checks could not run.
package diskcheck

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/antimetal/armt/pkg/command"
	"github.com/antimetal/armt/pkg/config/environment"
)

const SegmentName = "DISKCHECK"

// Virtual block devices that have no physical health to report.
var skipPrefixes = []string{"loop", "ram", "dm-", "md", "sr", "zram", "nbd"}

// encMode is Core Deterministic Encoding (RFC 8949 §4.2): identical
// reports encode to identical bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("diskcheck: CBOR encoder initialization failed: " + err.Error())
	}
}

// Report is the DISKCHECK segment payload.
type Report struct {
	// Time is the collection time in Unix seconds.
	Time        int64              `cbor:"time"`
	Devices     []DeviceHealth     `cbor:"devices"`
	Controllers []ControllerStatus `cbor:"controllers,omitempty"`
	Arrays      []MDArray          `cbor:"arrays,omitempty"`
	Filesystems []Usage            `cbor:"filesystems"`
	// Errors lists probes that could not run at all.
	Errors []string `cbor:"errors,omitempty"`
}

// UsageFunc reports filesystem usage.
type UsageFunc func(ctx context.Context) ([]Usage, error)

type Collector struct {
	logger logr.Logger
	runner command.Runner
	paths  environment.HostPaths
	clock  clock.PassiveClock
	usage  UsageFunc
}

type Option func(*Collector)

func WithRunner(runner command.Runner) Option {
	return func(c *Collector) {
		c.runner = runner
	}
}

func WithHostPaths(paths environment.HostPaths) Option {
	return func(c *Collector) {
		c.paths = paths
	}
}

func WithClock(clk clock.PassiveClock) Option {
	return func(c *Collector) {
		c.clock = clk
	}
}

func WithUsageFunc(fn UsageFunc) Option {
	return func(c *Collector) {
		c.usage = fn
	}
}

func New(logger logr.Logger, opts ...Option) *Collector {
	c := &Collector{
		logger: logger.WithName("diskcheck"),
		runner: command.Exec{Timeout: command.DefaultTimeout},
		paths:  environment.GetHostPaths(),
		clock:  clock.RealClock{},
		usage:  FilesystemUsage,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect writes the CBOR encoded Report to w. It fails only when ctx is
// done or the report cannot be written.
func (c *Collector) Collect(ctx context.Context, w io.Writer) error {
	report, err := c.Report(ctx)
	if err != nil {
		return err
	}

	data, err := encMode.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode disk report: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Report runs every probe and returns the combined result.
func (c *Collector) Report(ctx context.Context) (*Report, error) {
	report := &Report{Time: c.clock.Now().Unix()}

	devices, err := c.blockDevices()
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	for _, dev := range devices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Devices = append(report.Devices, c.smartHealth(ctx, dev))
	}

	for _, dev := range c.ccissDevices() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Controllers = append(report.Controllers, c.ccissStatus(ctx, dev))
	}

	arrays, err := c.mdArrays()
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	report.Arrays = arrays

	usage, err := c.usage(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		report.Errors = append(report.Errors, fmt.Sprintf("filesystem usage: %v", err))
	}
	report.Filesystems = usage

	c.logger.V(2).Info("disk report collected",
		"devices", len(report.Devices),
		"controllers", len(report.Controllers),
		"arrays", len(report.Arrays),
		"filesystems", len(report.Filesystems),
		"errors", len(report.Errors))
	return report, nil
}

// blockDevices lists whole physical disks. /sys/block holds only whole
// devices; partitions live in their parent's directory.
func (c *Collector) blockDevices() ([]string, error) {
	dir := filepath.Join(c.paths.Sys, "block")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list block devices in %s: %w", dir, err)
	}

	var devices []string
	for _, entry := range entries {
		name := entry.Name()
		if slices.ContainsFunc(skipPrefixes, func(p string) bool { return strings.HasPrefix(name, p) }) {
			continue
		}
		devices = append(devices, name)
	}
	slices.Sort(devices)
	return devices, nil
}

func (c *Collector) ccissDevices() []string {
	matches, err := filepath.Glob(filepath.Join(c.paths.Dev, "cciss", "c*d0"))
	if err != nil {
		return nil
	}
	slices.Sort(matches)
	return matches
}
