// Package infra implements infrastructure concerns (shell-outs, process,
// scheduling). Each OS utility is wrapped behind a narrow domain interface.
package infra

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/eliteGoblin/deepwork/internal/domain"
)

// ExecRunner implements domain.CommandRunner using os/exec.
type ExecRunner struct{}

// NewExecRunner creates a runner backed by the real OS.
func NewExecRunner() domain.CommandRunner {
	return &ExecRunner{}
}

// Run executes the command, discarding stdout. On a non-zero exit the error
// includes trimmed stderr for diagnostics.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = nil
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

// Output executes the command and returns its stdout.
func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = nil
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return "", fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return stdout.String(), nil
}

// RunWithInput executes the command feeding input on stdin.
func (r *ExecRunner) RunWithInput(ctx context.Context, input string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

// LookPath reports where the named binary lives.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Ensure ExecRunner implements domain.CommandRunner.
var _ domain.CommandRunner = (*ExecRunner)(nil)
