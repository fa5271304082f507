// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package exec runs the external commands the agent delegates to: hook
// tools, package management, site toggles and cluster queries.
package exec

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4/exec"
	"github.com/kballard/go-shellquote"
)

// CommandRunner allows to run commands on the underlying system.
type CommandRunner interface {
	RunCommands(run exec.RunParams) (*exec.ExecResponse, error)
}

type defaultRunner struct{}

// RunCommands is part of CommandRunner.
func (defaultRunner) RunCommands(run exec.RunParams) (*exec.ExecResponse, error) {
	return exec.RunCommands(run)
}

// DefaultRunner runs commands with a local shell.
var DefaultRunner CommandRunner = defaultRunner{}

// Logger represents the logging methods called.
type Logger interface {
	Tracef(string, ...interface{})
}

// CommandError is returned when a command ran but exited non-zero.
type CommandError struct {
	Args   []string
	Code   int
	Stderr string
}

// Error is part of error.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed with exit code %d", strings.Join(e.Args, " "), e.Code)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// IsCommandError reports whether the cause of err is a CommandError.
func IsCommandError(err error) bool {
	_, ok := errors.Cause(err).(*CommandError)
	return ok
}

// ExitCode returns the exit code carried by err, or -1 if err did not come
// from a command exiting non-zero.
func ExitCode(err error) int {
	if e, ok := errors.Cause(err).(*CommandError); ok {
		return e.Code
	}
	return -1
}

// Commander runs argv-style commands through a CommandRunner.
type Commander struct {
	Runner      CommandRunner
	Environment []string
	WorkingDir  string
	Logger      Logger
}

// NewCommander returns a Commander using the local shell.
func NewCommander(logger Logger) *Commander {
	return &Commander{Runner: DefaultRunner, Logger: logger}
}

// Run runs the command and returns its standard output. A non-zero exit
// status is reported as a *CommandError.
func (c *Commander) Run(ctx context.Context, args ...string) ([]byte, error) {
	if len(args) == 0 {
		return nil, errors.NotValidf("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	command := shellquote.Join(args...)
	if c.Logger != nil {
		c.Logger.Tracef("running %s", command)
	}
	params := exec.RunParams{
		Commands:   command,
		WorkingDir: c.WorkingDir,
	}
	if len(c.Environment) > 0 {
		params.Environment = append(os.Environ(), c.Environment...)
	}
	runner := c.Runner
	if runner == nil {
		runner = DefaultRunner
	}
	result, err := runner.RunCommands(params)
	if err != nil {
		return nil, errors.Annotatef(err, "running %q", args[0])
	}
	if result.Code != 0 {
		return nil, &CommandError{
			Args:   args,
			Code:   result.Code,
			Stderr: string(result.Stderr),
		}
	}
	return result.Stdout, nil
}

// Check runs the command and reports whether it exited zero. Exit status 1
// is reported as false; any other failure is an error.
func (c *Commander) Check(ctx context.Context, args ...string) (bool, error) {
	_, err := c.Run(ctx, args...)
	if err == nil {
		return true, nil
	}
	if ExitCode(err) == 1 {
		return false, nil
	}
	return false, errors.Trace(err)
}
