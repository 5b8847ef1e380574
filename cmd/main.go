// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/utils/clock"

	"github.com/antimetal/armt/internal/agent"
	"github.com/antimetal/armt/internal/collectors/diskcheck"
	"github.com/antimetal/armt/internal/collectors/fscheck"
	"github.com/antimetal/armt/internal/config"
	"github.com/antimetal/armt/internal/endpoints"
	"github.com/antimetal/armt/internal/identity"
	"github.com/antimetal/armt/internal/report"
	"github.com/antimetal/armt/internal/scheduler"
	"github.com/antimetal/armt/internal/transport"
	"github.com/antimetal/armt/internal/version"
	"github.com/antimetal/armt/pkg/command"
	"github.com/antimetal/armt/pkg/config/environment"
	"github.com/antimetal/armt/pkg/dns"
	"github.com/antimetal/armt/pkg/host"
)

// exitFailure is the exit status for usage errors and a failed
// authentication.
const exitFailure = -1

var setupLog logr.Logger

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "%s\n\nFlags:\n", endpoints.ErrUsage)
		flag.PrintDefaults()
	}
	flag.Parse()

	server, err := endpoints.ParseArgs(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(exitFailure)
	}

	cfg, err := config.FromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(exitFailure)
	}

	level := zap.NewAtomicLevelAt(zapcore.Level(-cfg.Log.Verbosity))
	logger, err := newLogger(cfg.Log.Format, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to create logger: %v\n", err)
		os.Exit(exitFailure)
	}
	setupLog = logger.WithName("setup")
	setupLog.Info("starting armt", "version", version.Version(), "rev", version.Rev(), "server", server.Address())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hostPaths := environment.GetHostPaths()
	resolver := newResolver(logger, hostPaths, cfg)

	key, err := identity.LoadOrCreate(cfg.KeyPath(), logger)
	if err != nil {
		setupLog.Error(err, "unable to load identity key", "path", cfg.KeyPath())
		os.Exit(exitFailure)
	}

	hostname, err := host.Hostname()
	if err != nil {
		setupLog.Error(err, "unable to determine hostname")
		os.Exit(exitFailure)
	}

	client, err := transport.NewClient(resolver,
		transport.WithLogger(logger),
		transport.WithDialTimeout(cfg.Transport.DialTimeout),
		transport.WithRequestTimeout(cfg.Transport.RequestTimeout),
	)
	if err != nil {
		setupLog.Error(err, "unable to create transport")
		os.Exit(exitFailure)
	}

	builder, err := report.NewBuilder(logger, report.Config{
		Host:      server.Host,
		Port:      server.Port,
		Hostname:  hostname,
		Signer:    key,
		Transport: client,
	})
	if err != nil {
		setupLog.Error(err, "unable to create message builder")
		os.Exit(exitFailure)
	}

	clk := clock.RealClock{}
	sched := scheduler.New(scheduler.WithLogger(logger), scheduler.WithClock(clk))
	now := clk.Now()

	if cfg.DiskCheck.Enabled {
		collector := diskcheck.New(logger,
			diskcheck.WithRunner(command.Exec{Timeout: cfg.DiskCheck.CommandTimeout}),
			diskcheck.WithHostPaths(hostPaths),
		)
		sched.AddJob(agent.NewSegmentJob(diskcheck.SegmentName, cfg.DiskCheck.Interval, now, builder, collector))
	}
	if cfg.FSCheck.Enabled {
		collector := fscheck.New(logger, cfg.SnapshotPath(), cfg.FSCheck.Paths)
		sched.AddJob(agent.NewSegmentJob(fscheck.SegmentName, cfg.FSCheck.Interval, now, builder, collector))
	}

	a, err := agent.New(logger, agent.Config{
		Scheduler:    sched,
		Builder:      builder,
		Clock:        clk,
		TickInterval: cfg.TickInterval,
	})
	if err != nil {
		setupLog.Error(err, "unable to create agent")
		os.Exit(exitFailure)
	}

	if path := config.File(); path != "" {
		go func() {
			err := config.Watch(ctx, logger, path, config.FromFlags, func(updated config.Config) {
				if updated.Log.Verbosity != cfg.Log.Verbosity {
					setupLog.Info("log verbosity changed", "verbosity", updated.Log.Verbosity)
				}
				cfg.Log.Verbosity = updated.Log.Verbosity
				level.SetLevel(zapcore.Level(-updated.Log.Verbosity))
			})
			if err != nil {
				setupLog.Error(err, "config file watch stopped", "path", path)
			}
		}()
	}

	if err := a.Run(ctx); err != nil {
		setupLog.Error(err, "unable to authenticate with server", "server", server.Address())
		os.Exit(exitFailure)
	}
}

func newLogger(format string, level zap.AtomicLevel) (logr.Logger, error) {
	zc := zap.NewProductionConfig()
	if format == config.LogFormatConsole {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.Sampling = nil

	zapLog, err := zc.Build()
	if err != nil {
		return logr.Discard(), err
	}
	return zapr.NewLogger(zapLog), nil
}

// newResolver seeds the resolver list with the host's nameservers followed
// by the configured resolvers.
func newResolver(logger logr.Logger, paths environment.HostPaths, cfg config.Config) *dns.Resolver {
	resolver := dns.NewResolver(
		dns.WithLogger(logger),
		dns.WithTimeout(cfg.DNSTimeout),
	)

	servers, err := dns.LoadResolvConf(paths.ResolvConfPath())
	if err != nil {
		setupLog.V(1).Info("unable to read resolv.conf", "path", paths.ResolvConfPath(), "error", err.Error())
	}
	for _, s := range servers {
		resolver.AddResolver(s)
	}
	for _, s := range cfg.Resolvers {
		resolver.AddResolver(s)
	}

	setupLog.V(1).Info("dns resolvers", "resolvers", resolver.Resolvers())
	return resolver
}
