// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package agent implements the top-level control loop: authenticate with
// the collection server once, then run reporting cycles until stopped.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/antimetal/armt/internal/report"
	"github.com/antimetal/armt/internal/scheduler"
)

const DefaultTickInterval = time.Second

var (
	// ErrAuthCommunication means the AUTH message could not be delivered.
	ErrAuthCommunication = errors.New("failed to communicate with server")
	// ErrAuthUnauthorized means the server answered AUTH with a status other than 202.
	ErrAuthUnauthorized = errors.New("server rejected authentication")
)

// Builder is the part of the message builder the control loop drives.
type Builder interface {
	Reset()
	Pending() []string
	Send(ctx context.Context) (report.Result, error)
	Authenticate(ctx context.Context) (report.Result, error)
}

// Config contains configuration for the agent
type Config struct {
	Scheduler *scheduler.Scheduler
	Builder   Builder
	// Clock drives the pause between cycles. Defaults to the real clock.
	Clock clock.Clock
	// TickInterval is the pause between cycles. Defaults to one second.
	TickInterval time.Duration
}

type Agent struct {
	logger    logr.Logger
	scheduler *scheduler.Scheduler
	builder   Builder
	clock     clock.Clock
	tick      time.Duration
}

func New(logger logr.Logger, config Config) (*Agent, error) {
	if config.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if config.Builder == nil {
		return nil, fmt.Errorf("builder is required")
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	tick := config.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}

	return &Agent{
		logger:    logger.WithName("agent"),
		scheduler: config.Scheduler,
		builder:   config.Builder,
		clock:     clk,
		tick:      tick,
	}, nil
}

// Authenticate sends the AUTH message and succeeds only when the server
// accepts it.
func (a *Agent) Authenticate(ctx context.Context) error {
	result, err := a.builder.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthCommunication, err)
	}
	if !result.Accepted() {
		return fmt.Errorf("%w: status %d", ErrAuthUnauthorized, result.StatusCode)
	}
	a.logger.Info("authenticated with server")
	return nil
}

// Cycle runs the due jobs and, when any ran, sends the resulting report.
// Delivery failures are logged and the cycle's data is dropped. Cycle
// reports whether any job ran.
func (a *Agent) Cycle(ctx context.Context) bool {
	a.builder.Reset()
	if !a.scheduler.Run(ctx) {
		return false
	}

	logger := a.logger.WithValues("cycle", newCycleID())
	logger.V(1).Info("sending report", "segments", a.builder.Pending())

	result, err := a.builder.Send(ctx)
	switch {
	case err != nil:
		logger.Error(err, "failed to communicate with server")
	case !result.Sent:
		logger.V(1).Info("no segment produced data")
	case !result.Accepted():
		logger.Error(nil, "server did not accept report", "status", result.StatusCode)
	default:
		logger.V(1).Info("report accepted", "segments", result.Segments, "bytes", result.BodySize)
	}
	return true
}

// Run authenticates and then runs a cycle every tick until ctx is done. An
// authentication failure is returned before any cycle runs.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Authenticate(ctx); err != nil {
		return err
	}

	a.logger.Info("starting reporting loop", "tick", a.tick, "jobs", len(a.scheduler.Jobs()))
	for {
		a.Cycle(ctx)

		select {
		case <-ctx.Done():
			a.logger.Info("stopping reporting loop")
			return nil
		case <-a.clock.After(a.tick):
		}
	}
}

func newCycleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SegmentAppender receives the collectors of due segment jobs.
type SegmentAppender interface {
	AppendSegment(name string, collector report.Collector)
}

// NewSegmentJob returns a job that, every interval starting at first,
// attaches collector to the pending report under name.
func NewSegmentJob(name string, interval time.Duration, first time.Time, builder SegmentAppender, collector report.Collector) *scheduler.Job {
	return &scheduler.Job{
		Name:     name,
		Interval: interval,
		NextRun:  first,
		Task: scheduler.TaskFunc(func(context.Context) {
			builder.AppendSegment(name, collector)
		}),
	}
}
