// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package diskcheck

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
)

// Usage is the space usage of one mounted filesystem.
type Usage struct {
	Mountpoint  string  `cbor:"mountpoint"`
	Device      string  `cbor:"device"`
	FSType      string  `cbor:"fstype"`
	Total       uint64  `cbor:"total"`
	Used        uint64  `cbor:"used"`
	Free        uint64  `cbor:"free"`
	UsedPercent float64 `cbor:"used_percent"`
}

// FilesystemUsage reports usage for every mounted physical filesystem.
// gopsutil honours HOST_PROC when locating the mount table.
func FilesystemUsage(ctx context.Context) ([]Usage, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	seen := make(map[string]bool, len(partitions))
	var usage []Usage
	for _, p := range partitions {
		if seen[p.Mountpoint] {
			continue
		}
		seen[p.Mountpoint] = true

		u, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			if ctx.Err() != nil {
				return usage, ctx.Err()
			}
			continue
		}
		usage = append(usage, Usage{
			Mountpoint:  p.Mountpoint,
			Device:      p.Device,
			FSType:      p.Fstype,
			Total:       u.Total,
			Used:        u.Used,
			Free:        u.Free,
			UsedPercent: u.UsedPercent,
		})
	}
	return usage, nil
}
