// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "armt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60*time.Second, cfg.DiskCheck.Interval)
	assert.Equal(t, time.Hour, cfg.FSCheck.Interval)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 5*time.Second, cfg.DNSTimeout)
}

func TestLoadFile_OverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
stateDir: /var/lib/armt
resolvers: ["10.0.0.2", "10.0.0.3:5353"]
log:
  verbosity: 2
  format: json
diskcheck:
  interval: 30s
fscheck:
  paths: [/etc]
`)

	cfg, err := LoadFile(path, Default())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/armt", cfg.StateDir)
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3:5353"}, cfg.Resolvers)
	assert.Equal(t, 2, cfg.Log.Verbosity)
	assert.Equal(t, LogFormatJSON, cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.DiskCheck.Interval)
	assert.True(t, cfg.DiskCheck.Enabled, "fields absent from the file keep their defaults")
	assert.Equal(t, 60*time.Second, cfg.DiskCheck.CommandTimeout)
	assert.Equal(t, []string{"/etc"}, cfg.FSCheck.Paths)
	assert.Equal(t, time.Hour, cfg.FSCheck.Interval)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), Default())
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "diskcheck: [not, a, map]"), Default())
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "tickInterval: soon"), Default())
	assert.Error(t, err)
}

func TestLoadFile_Empty(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, ""), Default())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty state dir", func(c *Config) { c.StateDir = "" }},
		{"zero tick", func(c *Config) { c.TickInterval = 0 }},
		{"zero dns timeout", func(c *Config) { c.DNSTimeout = 0 }},
		{"negative verbosity", func(c *Config) { c.Log.Verbosity = -1 }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"zero dial timeout", func(c *Config) { c.Transport.DialTimeout = 0 }},
		{"zero diskcheck interval", func(c *Config) { c.DiskCheck.Interval = 0 }},
		{"zero fscheck interval", func(c *Config) { c.FSCheck.Interval = 0 }},
		{"no fscheck paths", func(c *Config) { c.FSCheck.Paths = nil }},
		{"hostname resolver", func(c *Config) { c.Resolvers = []string{"dns.google"} }},
		{"ipv6 resolver", func(c *Config) { c.Resolvers = []string{"[2001:4860:4860::8888]:53"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_DisabledCollectorsSkipChecks(t *testing.T) {
	cfg := Default()
	cfg.DiskCheck = DiskCheckConfig{}
	cfg.FSCheck = FSCheckConfig{}
	assert.NoError(t, cfg.Validate())
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.StateDir = "/var/lib/armt"
	assert.Equal(t, "/var/lib/armt/armt.key", cfg.KeyPath())
	assert.Equal(t, "/var/lib/armt/fscheck.db", cfg.SnapshotPath())

	cfg.KeyFile = "/etc/armt/id.key"
	cfg.FSCheck.SnapshotFile = "/tmp/snap"
	assert.Equal(t, "/etc/armt/id.key", cfg.KeyPath())
	assert.Equal(t, "/tmp/snap", cfg.SnapshotPath())
}

func TestBuild_FlagsOverrideFile(t *testing.T) {
	path := writeFile(t, `
stateDir: /from/file
resolvers: ["10.0.0.2"]
log:
  verbosity: 1
`)

	cfg, err := build(path, overrides{
		set:       map[string]bool{"state-dir": true, "resolver": true},
		stateDir:  "/from/flag",
		resolvers: []string{"1.1.1.1"},
		verbosity: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.StateDir)
	assert.Equal(t, []string{"1.1.1.1"}, cfg.Resolvers)
	assert.Equal(t, 1, cfg.Log.Verbosity, "unset flags do not override the file")
}

func TestBuild_InvalidResult(t *testing.T) {
	_, err := build("", overrides{
		set:       map[string]bool{"log-format": true},
		logFormat: "xml",
	})
	assert.Error(t, err)
}

func TestStringList(t *testing.T) {
	var s stringList
	require.NoError(t, s.Set("8.8.8.8"))
	require.NoError(t, s.Set("8.8.4.4"))
	assert.Equal(t, "8.8.8.8,8.8.4.4", s.String())
}
