// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package diskcheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/antimetal/armt/pkg/command"
	"github.com/antimetal/armt/pkg/config/environment"
	"github.com/antimetal/armt/pkg/testutil"
)

const ataPassed = `smartctl 7.3 2022-02-28 r5338 [x86_64-linux-6.1.0] (local build)
=== START OF READ SMART DATA SECTION ===
SMART overall-health self-assessment test result: PASSED
`

const ataFailed = `=== START OF READ SMART DATA SECTION ===
SMART overall-health self-assessment test result: FAILED!
Drive failure expected in less than 24 hours. SAVE ALL DATA.
`

const scsiOK = `=== START OF READ SMART DATA SECTION ===
SMART Health Status: OK
`

const mdstatDegraded = `Personalities : [raid1] [raid6] [raid5] [raid4]
md0 : active raid1 sdb1[1] sda1[0]
      1048512 blocks super 1.2 [2/2] [UU]

md1 : active raid5 sdc1[2](F) sdd1[1] sde1[0]
      2096128 blocks super 1.2 level 5, 512k chunk, algorithm 2 [3/2] [UU_]
      [=====>...............]  recovery = 28.1% (294784/1048064) finish=0.3min speed=36848K/sec

md2 : inactive sdf[0](S)
      976631512 blocks super 1.2

unused devices: <none>
`

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls   []call
	outputs map[string]*command.Result
	errs    map[string]error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (*command.Result, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	key := name + " " + strings.Join(args, " ")
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if out, ok := f.outputs[key]; ok {
		return out, nil
	}
	return nil, fmt.Errorf("%s: executable file not found in $PATH", name)
}

func hostTree(t *testing.T, blockDevices []string, mdstat string) environment.HostPaths {
	t.Helper()
	h := testutil.NewHostTree(t)
	h.Mkdir(h.Paths.Sys, "block")
	for _, dev := range blockDevices {
		h.Mkdir(h.Paths.Sys, filepath.Join("block", dev))
	}
	if mdstat != "" {
		h.WriteFile(h.Paths.Proc, "mdstat", mdstat)
	}
	return h.Paths
}

func staticUsage(usage ...Usage) UsageFunc {
	return func(context.Context) ([]Usage, error) { return usage, nil }
}

func TestParseSmartHealth(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want Health
	}{
		{"ata passed", ataPassed, HealthOK},
		{"ata failed", ataFailed, HealthFailing},
		{"scsi ok", scsiOK, HealthOK},
		{"no verdict", "Smartctl open device: /dev/sda failed: Permission denied\n", HealthUnknown},
		{"empty", "", HealthUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSmartHealth([]byte(tt.out)))
		})
	}
}

func TestParseMDStat(t *testing.T) {
	arrays, err := parseMDStat(strings.NewReader(mdstatDegraded))
	require.NoError(t, err)
	require.Len(t, arrays, 3)

	assert.Equal(t, MDArray{
		Name:        "md0",
		State:       "active",
		Personality: "raid1",
		Members:     []string{"sdb1", "sda1"},
		Status:      "UU",
	}, arrays[0])

	assert.Equal(t, "raid5", arrays[1].Personality)
	assert.Equal(t, "UU_", arrays[1].Status)
	assert.Equal(t, []string{"sdc1"}, arrays[1].Failed)
	assert.True(t, arrays[1].Degraded)

	assert.Equal(t, "inactive", arrays[2].State)
	assert.Empty(t, arrays[2].Personality)
	assert.Equal(t, []string{"sdf"}, arrays[2].Members)
	assert.False(t, arrays[2].Degraded)
}

func TestParseMDStat_ReadOnlyMarker(t *testing.T) {
	arrays, err := parseMDStat(strings.NewReader("md127 : active (auto-read-only) raid1 sda[0] sdb[1]\n      100 blocks [2/2] [UU]\n"))
	require.NoError(t, err)
	require.Len(t, arrays, 1)
	assert.Equal(t, "raid1", arrays[0].Personality)
	assert.Equal(t, []string{"sda", "sdb"}, arrays[0].Members)
}

func TestReport(t *testing.T) {
	paths := hostTree(t, []string{"sdb", "sda", "loop0", "dm-0", "md0", "sr0", "nvme0n1"}, mdstatDegraded)
	require.NoError(t, os.MkdirAll(filepath.Join(paths.Dev, "cciss"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(paths.Dev, "cciss", "c0d0"), nil, 0600))

	runner := &fakeRunner{
		outputs: map[string]*command.Result{
			"smartctl -H " + filepath.Join(paths.Dev, "sda"):     {Stdout: []byte(ataPassed)},
			"smartctl -H " + filepath.Join(paths.Dev, "sdb"):     {Stdout: []byte(ataFailed), ExitCode: 8},
			"cciss_vol_status " + filepath.Join(paths.Dev, "cciss", "c0d0"): {Stdout: []byte("/dev/cciss/c0d0: (Smart Array P400) RAID 1 Volume 0 status: OK.\n")},
		},
	}
	clk := clocktesting.NewFakePassiveClock(time.Unix(1700000000, 0))
	root := Usage{Mountpoint: "/", Device: "/dev/sda1", FSType: "ext4", Total: 100, Used: 40, Free: 60, UsedPercent: 40}

	c := New(testr.New(t),
		WithRunner(runner),
		WithHostPaths(paths),
		WithClock(clk),
		WithUsageFunc(staticUsage(root)))

	report, err := c.Report(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000), report.Time)
	require.Len(t, report.Devices, 3, "virtual devices are skipped")
	assert.Equal(t, DeviceHealth{Device: "nvme0n1", Health: HealthUnknown, Error: "smartctl: executable file not found in $PATH"}, report.Devices[0])
	assert.Equal(t, DeviceHealth{Device: "sda", Health: HealthOK}, report.Devices[1])
	assert.Equal(t, DeviceHealth{Device: "sdb", Health: HealthFailing, ExitCode: 8}, report.Devices[2])

	require.Len(t, report.Controllers, 1)
	assert.Contains(t, report.Controllers[0].Output, "status: OK")

	require.Len(t, report.Arrays, 3)
	assert.True(t, report.Arrays[1].Degraded)
	assert.Equal(t, []Usage{root}, report.Filesystems)
	assert.Empty(t, report.Errors)
}

func TestReport_MissingSources(t *testing.T) {
	paths := environment.HostPaths{
		Proc: filepath.Join(t.TempDir(), "proc"),
		Sys:  filepath.Join(t.TempDir(), "sys"),
		Dev:  filepath.Join(t.TempDir(), "dev"),
	}
	c := New(testr.New(t),
		WithRunner(&fakeRunner{}),
		WithHostPaths(paths),
		WithUsageFunc(func(context.Context) ([]Usage, error) { return nil, errors.New("no mount table") }))

	report, err := c.Report(context.Background())
	require.NoError(t, err, "probe failures are reported, not returned")
	assert.Empty(t, report.Devices)
	assert.Empty(t, report.Arrays, "a host without mdstat has no arrays")
	assert.Len(t, report.Errors, 2)
}

func TestCollect_EncodesDeterministicCBOR(t *testing.T) {
	paths := hostTree(t, []string{"sda"}, "")
	runner := &fakeRunner{outputs: map[string]*command.Result{
		"smartctl -H " + filepath.Join(paths.Dev, "sda"): {Stdout: []byte(scsiOK)},
	}}
	c := New(testr.New(t),
		WithRunner(runner),
		WithHostPaths(paths),
		WithClock(clocktesting.NewFakePassiveClock(time.Unix(42, 0))),
		WithUsageFunc(staticUsage()))

	var first, second bytes.Buffer
	require.NoError(t, c.Collect(context.Background(), &first))
	require.NoError(t, c.Collect(context.Background(), &second))
	assert.Equal(t, first.Bytes(), second.Bytes())

	var decoded Report
	require.NoError(t, cbor.Unmarshal(first.Bytes(), &decoded))
	assert.Equal(t, int64(42), decoded.Time)
	require.Len(t, decoded.Devices, 1)
	assert.Equal(t, HealthOK, decoded.Devices[0].Health)
}

func TestCollect_Cancelled(t *testing.T) {
	paths := hostTree(t, []string{"sda"}, "")
	c := New(testr.New(t), WithRunner(&fakeRunner{}), WithHostPaths(paths), WithUsageFunc(staticUsage()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	assert.ErrorIs(t, c.Collect(ctx, &buf), context.Canceled)
	assert.Zero(t, buf.Len())
}

func TestReport_LocalHost(t *testing.T) {
	testutil.RequireLinuxFilesystem(t)

	c := New(testr.New(t), WithRunner(&fakeRunner{}))
	report, err := c.Report(context.Background())
	require.NoError(t, err)

	for _, dev := range report.Devices {
		assert.NotContains(t, dev.Device, "loop")
		assert.Equal(t, HealthUnknown, dev.Health)
	}
}

func TestSmartctl_Integration(t *testing.T) {
	testutil.RequireRoot(t)
	testutil.RequireCommand(t, "smartctl")

	c := New(testr.New(t), WithUsageFunc(staticUsage()))
	report, err := c.Report(context.Background())
	require.NoError(t, err)
	for _, dev := range report.Devices {
		t.Logf("%s: %s (exit %d) %s", dev.Device, dev.Health, dev.ExitCode, dev.Error)
	}
}
