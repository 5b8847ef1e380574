// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package config holds the agent configuration: built-in defaults, an
// optional YAML file and command-line overrides, applied in that order.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/antimetal/armt/pkg/config/environment"
)

const (
	KeyFileName      = "armt.key"
	SnapshotFileName = "fscheck.db"

	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// Config is the complete agent configuration. Durations in the YAML file
// use Go duration syntax ("60s", "1h").
type Config struct {
	// StateDir holds the identity key and the FSCHECK snapshot. Defaults to
	// the directory of the agent executable.
	StateDir string `yaml:"stateDir"`
	// KeyFile overrides the identity key location.
	KeyFile string `yaml:"keyFile"`
	// Resolvers are queried after the nameservers of the host's resolv.conf.
	Resolvers  []string      `yaml:"resolvers"`
	DNSTimeout time.Duration `yaml:"dnsTimeout"`
	// TickInterval is the pause between reporting cycles.
	TickInterval time.Duration `yaml:"tickInterval"`

	Log       LogConfig       `yaml:"log"`
	Transport TransportConfig `yaml:"transport"`
	DiskCheck DiskCheckConfig `yaml:"diskcheck"`
	FSCheck   FSCheckConfig   `yaml:"fscheck"`
}

type LogConfig struct {
	// Verbosity enables V(n) logs for n <= Verbosity.
	Verbosity int    `yaml:"verbosity"`
	Format    string `yaml:"format"`
}

type TransportConfig struct {
	DialTimeout    time.Duration `yaml:"dialTimeout"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

type DiskCheckConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	CommandTimeout time.Duration `yaml:"commandTimeout"`
}

type FSCheckConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	// Paths are the directory trees whose regular files are fingerprinted.
	Paths []string `yaml:"paths"`
	// SnapshotFile overrides the snapshot location.
	SnapshotFile string `yaml:"snapshotFile"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StateDir:     environment.ExecutableDir(),
		Resolvers:    []string{"8.8.8.8", "8.8.4.4"},
		DNSTimeout:   5 * time.Second,
		TickInterval: time.Second,
		Log: LogConfig{
			Format: LogFormatConsole,
		},
		Transport: TransportConfig{
			DialTimeout:    10 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		DiskCheck: DiskCheckConfig{
			Enabled:        true,
			Interval:       60 * time.Second,
			CommandTimeout: 60 * time.Second,
		},
		FSCheck: FSCheckConfig{
			Enabled:  true,
			Interval: time.Hour,
			Paths:    []string{"/bin", "/sbin", "/usr/bin", "/usr/sbin", "/lib", "/etc"},
		},
	}
}

// LoadFile reads the YAML file at path on top of cfg. Fields absent from
// the file keep their value in cfg.
func LoadFile(path string, cfg Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting in c.
func (c Config) Validate() error {
	var errs []error
	if c.StateDir == "" {
		errs = append(errs, errors.New("stateDir must not be empty"))
	}
	if c.DNSTimeout <= 0 {
		errs = append(errs, errors.New("dnsTimeout must be positive"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tickInterval must be positive"))
	}
	if c.Log.Verbosity < 0 {
		errs = append(errs, errors.New("log.verbosity must not be negative"))
	}
	if c.Log.Format != LogFormatJSON && c.Log.Format != LogFormatConsole {
		errs = append(errs, fmt.Errorf("log.format must be %q or %q, got %q", LogFormatJSON, LogFormatConsole, c.Log.Format))
	}
	if c.Transport.DialTimeout <= 0 || c.Transport.RequestTimeout <= 0 {
		errs = append(errs, errors.New("transport timeouts must be positive"))
	}
	if c.DiskCheck.Enabled && (c.DiskCheck.Interval <= 0 || c.DiskCheck.CommandTimeout <= 0) {
		errs = append(errs, errors.New("diskcheck interval and commandTimeout must be positive"))
	}
	if c.FSCheck.Enabled {
		if c.FSCheck.Interval <= 0 {
			errs = append(errs, errors.New("fscheck interval must be positive"))
		}
		if len(c.FSCheck.Paths) == 0 {
			errs = append(errs, errors.New("fscheck paths must not be empty"))
		}
	}
	for _, r := range c.Resolvers {
		host := r
		if h, _, err := net.SplitHostPort(r); err == nil {
			host = h
		}
		if ip := net.ParseIP(host); ip == nil || ip.To4() == nil {
			errs = append(errs, fmt.Errorf("resolver %q is not an IPv4 address", r))
		}
	}
	return errors.Join(errs...)
}

// KeyPath is the identity key location.
func (c Config) KeyPath() string {
	if c.KeyFile != "" {
		return c.KeyFile
	}
	return filepath.Join(c.StateDir, KeyFileName)
}

// SnapshotPath is the FSCHECK snapshot location.
func (c Config) SnapshotPath() string {
	if c.FSCheck.SnapshotFile != "" {
		return c.FSCheck.SnapshotFile
	}
	return filepath.Join(c.StateDir, SnapshotFileName)
}
