// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package diskcheck

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"strings"
)

type Health string

const (
	HealthOK      Health = "healthy"
	HealthFailing Health = "failing"
	HealthUnknown Health = "unknown"
)

// DeviceHealth is the SMART verdict for one disk.
type DeviceHealth struct {
	Device   string `cbor:"device"`
	Health   Health `cbor:"health"`
	ExitCode int    `cbor:"exit_code"`
	Error    string `cbor:"error,omitempty"`
}

// ControllerStatus is the raw cciss_vol_status output for one controller.
type ControllerStatus struct {
	Device   string `cbor:"device"`
	Output   string `cbor:"output"`
	ExitCode int    `cbor:"exit_code"`
	Error    string `cbor:"error,omitempty"`
}

func (c *Collector) smartHealth(ctx context.Context, dev string) DeviceHealth {
	path := filepath.Join(c.paths.Dev, dev)
	result := DeviceHealth{Device: dev, Health: HealthUnknown}

	out, err := c.runner.Run(ctx, "smartctl", "-H", path)
	if err != nil {
		c.logger.V(1).Info("smartctl failed", "device", path, "error", err.Error())
		result.Error = err.Error()
		return result
	}
	result.ExitCode = out.ExitCode
	result.Health = parseSmartHealth(out.Stdout)
	return result
}

// parseSmartHealth reads the overall verdict from `smartctl -H` output.
// ATA disks report "SMART overall-health self-assessment test result:
// PASSED"; SCSI disks report "SMART Health Status: OK".
func parseSmartHealth(out []byte) Health {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "overall-health") && !strings.Contains(line, "SMART Health Status") {
			continue
		}
		_, verdict, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		verdict = strings.ToUpper(strings.TrimSpace(verdict))
		switch {
		case verdict == "PASSED" || verdict == "OK":
			return HealthOK
		case strings.HasPrefix(verdict, "FAILED"):
			return HealthFailing
		}
	}
	return HealthUnknown
}

func (c *Collector) ccissStatus(ctx context.Context, dev string) ControllerStatus {
	status := ControllerStatus{Device: dev}

	out, err := c.runner.Run(ctx, "cciss_vol_status", dev)
	if err != nil {
		c.logger.V(1).Info("cciss_vol_status failed", "device", dev, "error", err.Error())
		status.Error = err.Error()
		return status
	}
	status.ExitCode = out.ExitCode
	status.Output = strings.TrimSpace(string(out.Stdout))
	return status
}
