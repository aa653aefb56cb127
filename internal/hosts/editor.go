// Package hosts edits the tool-managed block inside the system hosts file.
//
// The managed block is delimited by a marker comment pair so that removal
// only ever strips tool-owned lines. Writes are atomic: a temp file in the
// same directory is renamed over the original, so an interrupted write can
// never leave a half-edited hosts file.
package hosts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/eliteGoblin/deepwork/internal/domain"
)

const (
	MarkerStart = "# >>> DEEPWORK BLOCK START - DO NOT EDIT <<<"
	MarkerEnd   = "# >>> DEEPWORK BLOCK END <<<"

	sessionPrefix = "# session "
	sessionInfix  = " until "

	// flagNoNewline is written inside the block when the original file had
	// no final newline, so Remove can restore the file byte for byte.
	flagNoNewline = "# no-final-newline"
)

// Editor implements domain.HostsEditor against a real file.
type Editor struct {
	path       string
	loopbackV4 string
	loopbackV6 string
}

// NewEditor creates an editor for the given hosts file path.
func NewEditor(path, loopbackV4, loopbackV6 string) *Editor {
	return &Editor{
		path:       path,
		loopbackV4: loopbackV4,
		loopbackV6: loopbackV6,
	}
}

// Path returns the hosts file path.
func (e *Editor) Path() string {
	return e.path
}

// Apply rewrites the managed block for the set, replacing any previous
// managed block and preserving everything else. Re-running with the same set
// yields identical file content.
func (e *Editor) Apply(set domain.DomainSet, session domain.Session) error {
	if err := e.probeWritable(); err != nil {
		return err
	}

	content, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", e.path, err)
	}

	prior := restoreOriginal(string(content))
	noNewline := prior != "" && !strings.HasSuffix(prior, "\n")

	var b strings.Builder
	b.WriteString(prior)
	if noNewline {
		b.WriteString("\n")
	}

	b.WriteString(MarkerStart + "\n")
	b.WriteString(sessionPrefix + session.ID + sessionInfix + session.Deadline.Format(time.RFC3339) + "\n")
	if noNewline {
		b.WriteString(flagNoNewline + "\n")
	}
	for _, d := range set.Sorted() {
		b.WriteString(e.loopbackV4 + " " + d + "\n")
		b.WriteString(e.loopbackV6 + " " + d + "\n")
	}
	b.WriteString(MarkerEnd + "\n")

	return e.atomicWrite([]byte(b.String()))
}

// Remove strips the managed block. A file without one is left untouched,
// byte for byte.
func (e *Editor) Remove() error {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", e.path, err)
	}

	text := string(content)
	if !strings.Contains(text, MarkerStart) {
		return nil
	}

	if err := e.probeWritable(); err != nil {
		return err
	}
	return e.atomicWrite([]byte(restoreOriginal(text)))
}

// Active reports whether a managed block is present.
func (e *Editor) Active() (bool, error) {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", e.path, err)
	}
	return strings.Contains(string(content), MarkerStart), nil
}

// Session parses the session header inside the managed block, if present.
func (e *Editor) Session() (*domain.Session, error) {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", e.path, err)
	}

	inBlock := false
	for _, line := range strings.Split(string(content), "\n") {
		switch {
		case strings.Contains(line, MarkerStart):
			inBlock = true
		case strings.Contains(line, MarkerEnd):
			inBlock = false
		case inBlock && strings.HasPrefix(line, sessionPrefix):
			rest := strings.TrimPrefix(line, sessionPrefix)
			id, stamp, ok := strings.Cut(rest, sessionInfix)
			if !ok {
				continue
			}
			deadline, err := time.Parse(time.RFC3339, strings.TrimSpace(stamp))
			if err != nil {
				continue
			}
			return &domain.Session{ID: strings.TrimSpace(id), Deadline: deadline}, nil
		}
	}
	return nil, nil
}

// ManagedRegion returns the raw managed block including markers, or "" when
// none is present. The degraded-mode guard captures this at startup so it
// can restore the block if the entries are stripped before the deadline.
func (e *Editor) ManagedRegion() (string, error) {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", e.path, err)
	}

	var b strings.Builder
	inBlock := false
	for _, line := range strings.Split(string(content), "\n") {
		if strings.Contains(line, MarkerStart) {
			inBlock = true
		}
		if inBlock {
			b.WriteString(line + "\n")
		}
		if strings.Contains(line, MarkerEnd) {
			break
		}
	}
	return b.String(), nil
}

// Restore re-appends a previously captured managed region, replacing any
// partial remnant. Used only while the file is mutable (degraded mode).
func (e *Editor) Restore(region string) error {
	if region == "" {
		return nil
	}
	if err := e.probeWritable(); err != nil {
		return err
	}

	content, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", e.path, err)
	}

	var b strings.Builder
	b.WriteString(restoreOriginal(string(content)))
	if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
		b.WriteString("\n")
	}
	b.WriteString(region)

	return e.atomicWrite([]byte(b.String()))
}

// restoreOriginal strips the managed block and undoes the newline Apply
// synthesized for a file that had no final one.
func restoreOriginal(content string) string {
	text := stripManaged(content)
	if strings.Contains(content, flagNoNewline) {
		text = strings.TrimSuffix(text, "\n")
	}
	return text
}

// stripManaged removes all lines between (and including) the marker pair.
func stripManaged(content string) string {
	lines := strings.Split(content, "\n")
	kept := make([]string, 0, len(lines))
	inBlock := false
	for _, line := range lines {
		if strings.Contains(line, MarkerStart) {
			inBlock = true
			continue
		}
		if strings.Contains(line, MarkerEnd) {
			inBlock = false
			continue
		}
		if !inBlock {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// probeWritable distinguishes "immutable flag set" from a plain permission
// failure by attempting a zero-byte append. chattr +i yields EPERM even for
// root; a missing privilege yields EACCES.
func (e *Editor) probeWritable() error {
	f, err := os.OpenFile(e.path, os.O_WRONLY|os.O_APPEND, 0)
	if err == nil {
		f.Close()
		return nil
	}

	if errors.Is(err, syscall.EPERM) {
		return fmt.Errorf("%w: %s", domain.ErrHostsImmutable, e.path)
	}
	return fmt.Errorf("no write access to %s: %w", e.path, err)
}

// atomicWrite writes content to a temp file in the same directory and
// renames it over the hosts file, preserving the original mode.
func (e *Editor) atomicWrite(content []byte) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(e.path); err == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(e.path)
	tmp, err := os.CreateTemp(dir, ".hosts-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, e.path); err != nil {
		if errors.Is(err, syscall.EPERM) {
			return fmt.Errorf("%w: %s", domain.ErrHostsImmutable, e.path)
		}
		return fmt.Errorf("failed to replace %s: %w", e.path, err)
	}

	success = true
	return nil
}

// Ensure Editor implements domain.HostsEditor.
var _ domain.HostsEditor = (*Editor)(nil)
