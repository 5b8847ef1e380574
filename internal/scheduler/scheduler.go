// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package scheduler runs recurring jobs on fixed intervals.
//
// The scheduler has no goroutine of its own: the caller polls Run, which
// executes every job whose next run time has passed. A job's next run time
// advances by its interval from the previous scheduled time, so a job that
// fell behind fires once per Run call until it has caught up.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

// Task is the work a job performs when it is due.
type Task interface {
	Execute(ctx context.Context)
}

// TaskFunc adapts an ordinary function to the Task interface.
type TaskFunc func(ctx context.Context)

func (f TaskFunc) Execute(ctx context.Context) {
	f(ctx)
}

// Job is a recurring unit of work.
type Job struct {
	// Name identifies the job in logs and, for reporting jobs, names the
	// segment the job contributes.
	Name string
	// Interval is added to NextRun after every execution.
	Interval time.Duration
	// NextRun is when the job is next eligible to run.
	NextRun time.Time
	Task    Task

	runs    uint64
	lastRun time.Time
}

// JobStatus is a read-only snapshot of a job.
type JobStatus struct {
	Name     string
	Interval time.Duration
	NextRun  time.Time
	LastRun  time.Time
	Runs     uint64
}

type Scheduler struct {
	logger logr.Logger
	clock  clock.PassiveClock

	mu   sync.Mutex
	jobs []*Job
}

type Option func(*Scheduler)

func WithLogger(logger logr.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithClock(clk clock.PassiveClock) Option {
	return func(s *Scheduler) {
		s.clock = clk
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: logr.Discard(),
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithName("scheduler")
	return s
}

// AddJob registers job. Jobs run in registration order; nothing is
// validated and the same job may be added twice.
func (s *Scheduler) AddJob(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	s.logger.V(1).Info("job registered", "job", job.Name, "interval", job.Interval, "nextRun", job.NextRun)
}

// Run executes every due job once and reports whether any job ran.
func (s *Scheduler) Run(ctx context.Context) bool {
	s.mu.Lock()
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	now := s.clock.Now()
	ran := false
	for _, job := range jobs {
		if job.NextRun.After(now) {
			continue
		}

		s.logger.V(2).Info("running job", "job", job.Name, "scheduled", job.NextRun)
		if job.Task != nil {
			job.Task.Execute(ctx)
		}

		s.mu.Lock()
		job.NextRun = job.NextRun.Add(job.Interval)
		job.runs++
		job.lastRun = now
		s.mu.Unlock()
		ran = true
	}
	return ran
}

// Jobs returns the state of every registered job in registration order.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		status = append(status, JobStatus{
			Name:     job.Name,
			Interval: job.Interval,
			NextRun:  job.NextRun,
			LastRun:  job.lastRun,
			Runs:     job.runs,
		})
	}
	return status
}
