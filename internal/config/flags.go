// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt
package config

import (
	"flag"
	"strings"
)

var (
	configFile string
	stateDir   string
	keyFile    string
	resolvers  stringList
	verbosity  int
	logFormat  string
)

func init() {
	flag.StringVar(&configFile, "config", "",
		"Path to a YAML configuration file")
	flag.StringVar(&stateDir, "state-dir", "",
		"Directory for the identity key and filesystem snapshot (default: directory of the executable)")
	flag.StringVar(&keyFile, "key-file", "",
		"Path to the identity key (default: <state-dir>/armt.key)")
	flag.Var(&resolvers, "resolver",
		"DNS resolver address, may be repeated (replaces the configured resolvers)")
	flag.IntVar(&verbosity, "v", 0,
		"Log verbosity")
	flag.StringVar(&logFormat, "log-format", LogFormatConsole,
		"Log format: 'json' or 'console'")
}

type stringList []string

func (s *stringList) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// File returns the -config flag value.
func File() string { return configFile }

// overrides are the command-line values, applied only when set.
type overrides struct {
	set       map[string]bool
	stateDir  string
	keyFile   string
	resolvers []string
	verbosity int
	logFormat string
}

func (o overrides) apply(cfg *Config) {
	if o.set["state-dir"] {
		cfg.StateDir = o.stateDir
	}
	if o.set["key-file"] {
		cfg.KeyFile = o.keyFile
	}
	if o.set["resolver"] {
		cfg.Resolvers = append([]string(nil), o.resolvers...)
	}
	if o.set["v"] {
		cfg.Log.Verbosity = o.verbosity
	}
	if o.set["log-format"] {
		cfg.Log.Format = o.logFormat
	}
}

// FromFlags builds the configuration from the defaults, the -config file
// and the command-line flags. It must be called after flag.Parse.
func FromFlags() (Config, error) {
	o := overrides{
		set:       make(map[string]bool),
		stateDir:  stateDir,
		keyFile:   keyFile,
		resolvers: resolvers,
		verbosity: verbosity,
		logFormat: logFormat,
	}
	flag.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return build(configFile, o)
}

func build(file string, o overrides) (Config, error) {
	cfg := Default()
	if file != "" {
		var err error
		if cfg, err = LoadFile(file, cfg); err != nil {
			return cfg, err
		}
	}
	o.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
