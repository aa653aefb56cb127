// Package tui implements the interactive menu: show status, pick a
// duration, confirm, start the session.
package tui

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/eliteGoblin/deepwork/internal/domain"
	"github.com/eliteGoblin/deepwork/internal/duration"
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 2)
)

// Hooks are the operations the menu drives; injected so the model stays
// testable.
type Hooks struct {
	Status    func() (*domain.Status, error)
	Start     func(d time.Duration) error
	SitesFile string
}

type phase int

const (
	phaseInput phase = iota
	phaseConfirm
	phaseDone
)

type startedMsg struct{ err error }
type editedMsg struct{ err error }

// Model is the bubbletea model for the menu.
type Model struct {
	hooks  Hooks
	status *domain.Status

	phase    phase
	input    string
	pending  time.Duration
	errLine  string
	doneLine string
}

// New creates the menu model.
func New(hooks Hooks) Model {
	st, _ := hooks.Status()
	return Model{hooks: hooks, status: st}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case startedMsg:
		m.phase = phaseDone
		if msg.err != nil {
			m.doneLine = warnStyle.Render("Failed to start: " + msg.err.Error())
		} else {
			m.doneLine = activeStyle.Render("Focus mode active. Stay focused!")
		}
		return m, tea.Quit

	case editedMsg:
		st, _ := m.hooks.Status()
		m.status = st
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.phase {
	case phaseConfirm:
		switch strings.ToLower(msg.String()) {
		case "y":
			d := m.pending
			return m, func() tea.Msg { return startedMsg{err: m.hooks.Start(d)} }
		default:
			m.phase = phaseInput
			m.input = ""
			return m, nil
		}

	case phaseInput:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyBackspace:
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
			return m, nil
		case tea.KeyRunes, tea.KeySpace:
			m.input += msg.String()
			return m, nil
		}
	}
	return m, nil
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	choice := strings.TrimSpace(strings.ToLower(m.input))
	m.input = ""
	m.errLine = ""

	switch choice {
	case "", "q":
		return m, tea.Quit
	case "e":
		return m, m.editSites()
	}

	if m.status != nil && m.status.State != domain.StateUnblocked {
		m.errLine = "Block is active. Wait for the timer or run unlock."
		return m, nil
	}

	d, err := duration.Parse(choice)
	if err != nil {
		m.errLine = "Invalid duration. Examples: 25m, 1h30m, 90, 1d"
		return m, nil
	}

	m.pending = d
	m.phase = phaseConfirm
	return m, nil
}

func (m Model) editSites() tea.Cmd {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "nano"
	}
	cmd := exec.Command(editor, m.hooks.SitesFile)
	return tea.ExecProcess(cmd, func(err error) tea.Msg {
		return editedMsg{err: err}
	})
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString("\n" + titleStyle.Render("  FOCUS - Deep Work Distraction Blocker") + "\n\n")
	b.WriteString(m.statusBanner() + "\n\n")

	switch m.phase {
	case phaseConfirm:
		until := time.Now().Add(m.pending).Format("15:04")
		b.WriteString(fmt.Sprintf("  Block distractions for %s (until %s)\n\n",
			duration.Format(m.pending), until))
		b.WriteString(warnStyle.Render("  WARNING: ") +
			"once started you CANNOT undo this until the timer expires.\n\n")
		b.WriteString("  Start focus session? [y/N]: ")

	case phaseDone:
		b.WriteString("  " + m.doneLine + "\n")

	default:
		if m.status != nil && m.status.State != domain.StateUnblocked {
			b.WriteString(dimStyle.Render("  Block is locked. [q] quit\n"))
		} else {
			b.WriteString(dimStyle.Render("  Enter a duration to start (25m, 1h30m, 90, 1d)\n"))
			b.WriteString(dimStyle.Render("  [e] edit sites    [q] quit\n"))
		}
		if m.errLine != "" {
			b.WriteString("\n  " + warnStyle.Render(m.errLine) + "\n")
		}
		b.WriteString("\n  > " + m.input)
	}

	b.WriteString("\n")
	return b.String()
}

func (m Model) statusBanner() string {
	if m.status == nil {
		return dimStyle.Render("  status unavailable")
	}

	switch m.status.State {
	case domain.StateUnblocked:
		return dimStyle.Render("  No active block. Enter a duration to start focusing.")
	case domain.StateUnlockOverdue:
		return boxStyle.Render(warnStyle.Render("UNLOCK OVERDUE") +
			"\nScheduled unlock was lost. Run: sudo deepwork unlock")
	default:
		line := activeStyle.Render("FOCUS MODE ACTIVE")
		if !m.status.UnlockAt.IsZero() {
			line += "\nBlocking until " + m.status.UnlockAt.Local().Format("15:04")
		}
		return boxStyle.Render(line)
	}
}

// Run starts the interactive menu.
func Run(hooks Hooks) error {
	p := tea.NewProgram(New(hooks))
	_, err := p.Run()
	return err
}
