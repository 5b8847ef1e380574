// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package command runs external tools with a timeout and captures their output.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const DefaultTimeout = 60 * time.Second

// ErrTimeout is returned when a command is killed because its timeout expired.
var ErrTimeout = errors.New("command timed out")

// Result is the outcome of a command that started and ran to completion.
// A non-zero ExitCode is not an error: tools such as smartctl encode status
// bits in the exit code.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Runner executes external tools.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// Exec is the Runner backed by os/exec.
type Exec struct {
	Timeout time.Duration
}

func (e Exec) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return Run(ctx, timeout, name, args...)
}

// Run executes name with args, killing it once timeout elapses or ctx is
// done. It returns an error only when the command could not be started,
// timed out, or was cancelled.
func Run(ctx context.Context, timeout time.Duration, name string, args ...string) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%s %s: %w after %s", name, strings.Join(args, " "), ErrTimeout, timeout)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), ctx.Err())
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("%s %s: %w (stderr: %s)",
			name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return result, nil
}
