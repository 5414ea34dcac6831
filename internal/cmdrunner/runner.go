// Package cmdrunner wraps external process execution so platform code
// can be exercised with a fake runner in tests.
package cmdrunner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bmruszaj/cabplanner/pkg/logger"
)

type CommandRunner interface {
	Run(ctx context.Context, cmd string, args ...string) error
	RunWithOutput(ctx context.Context, cmd string, args ...string) ([]byte, error)
	RunAndTrimmedOutput(ctx context.Context, cmd string, args ...string) (string, error)
	RunQuiet(ctx context.Context, cmd string, args ...string) error
	StartDetached(cmd string, args ...string) error
}

type CommandsRunner struct {
	logger *logger.Logger
}

func NewCommandsRunner() *CommandsRunner {
	return &CommandsRunner{logger: logger.NewLogger("command_runner")}
}

func (r *CommandsRunner) Run(ctx context.Context, cmd string, args ...string) error {
	c := exec.CommandContext(ctx, cmd, args...)
	output, err := c.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Errorf("command failed: %s %v\n%s", cmd, args, string(output))
		return fmt.Errorf("command error: %w\n%s", err, string(output))
	}
	return nil
}

func (r *CommandsRunner) RunWithOutput(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd, args...)
	output, err := c.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Errorf("command failed: %s %v\n%s", cmd, args, string(output))
		return nil, fmt.Errorf("command error: %w\n%s", err, string(output))
	}
	return output, nil
}

func (r *CommandsRunner) RunAndTrimmedOutput(ctx context.Context, cmd string, args ...string) (string, error) {
	out, err := r.RunWithOutput(ctx, cmd, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// RunQuiet runs a command without logging a non-zero exit. Useful for
// probes like pgrep where a failing exit code is an expected answer.
func (r *CommandsRunner) RunQuiet(ctx context.Context, cmd string, args ...string) error {
	c := exec.CommandContext(ctx, cmd, args...)
	err := c.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// StartDetached launches a process without waiting for it. The relaunched
// application and the shortcut script outlive the updater process.
func (r *CommandsRunner) StartDetached(cmd string, args ...string) error {
	c := exec.Command(cmd, args...)
	if err := c.Start(); err != nil {
		r.logger.Errorf("failed to start: %s %v: %v", cmd, args, err)
		return fmt.Errorf("failed to start %s: %w", cmd, err)
	}
	// Reap the child when it exits so it never zombies on unix.
	go func() { _ = c.Wait() }()
	return nil
}
