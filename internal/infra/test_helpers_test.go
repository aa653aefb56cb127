package infra

import (
	"context"
	"fmt"
	"strings"
)

// fakeRunner records every command and serves canned results, keyed by
// command-line prefix.
type fakeRunner struct {
	calls   []string
	inputs  []string
	errs    map[string]error
	outs    map[string]string
	missing map[string]bool // binaries LookPath reports as absent
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		errs:    make(map[string]error),
		outs:    make(map[string]string),
		missing: make(map[string]bool),
	}
}

func cmdline(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

func (f *fakeRunner) match(m map[string]error, cmd string) error {
	for prefix, err := range m {
		if strings.HasPrefix(cmd, prefix) {
			return err
		}
	}
	return nil
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := cmdline(name, args...)
	f.calls = append(f.calls, cmd)
	return f.match(f.errs, cmd)
}

func (f *fakeRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := cmdline(name, args...)
	f.calls = append(f.calls, cmd)
	if err := f.match(f.errs, cmd); err != nil {
		return "", err
	}
	for prefix, out := range f.outs {
		if strings.HasPrefix(cmd, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (f *fakeRunner) RunWithInput(ctx context.Context, input string, name string, args ...string) error {
	f.inputs = append(f.inputs, input)
	return f.Run(ctx, name, args...)
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if f.missing[name] {
		return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	return "/usr/bin/" + name, nil
}

// called reports whether any recorded command starts with the prefix.
func (f *fakeRunner) called(prefix string) bool {
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}
