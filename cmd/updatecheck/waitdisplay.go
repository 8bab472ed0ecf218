package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF79C6"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F8F8F2"))
)

// waitModel is the bubbletea model shown while the process waits for the
// background check to persist its result.
type waitModel struct {
	spinner spinner.Model
	status  string
	done    chan struct{}
}

type waitDoneMsg struct{}

func newWaitModel(status string) *waitModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = spinnerStyle

	return &waitModel{
		spinner: s,
		status:  status,
		done:    make(chan struct{}),
	}
}

func (m *waitModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.waitForDone(),
	)
}

func (m *waitModel) waitForDone() tea.Cmd {
	return func() tea.Msg {
		<-m.done
		return waitDoneMsg{}
	}
}

func (m *waitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case waitDoneMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *waitModel) View() string {
	return m.spinner.View() + " " + statusStyle.Render(m.status)
}

// waitDisplay runs the wait spinner inline on w.
type waitDisplay struct {
	writer  io.Writer
	program *tea.Program
	model   *waitModel
	exited  chan struct{}

	mu      sync.Mutex
	stopped bool
}

func newWaitDisplay(w io.Writer, status string) *waitDisplay {
	model := newWaitModel(status)
	program := tea.NewProgram(
		model,
		tea.WithOutput(w),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	d := &waitDisplay{
		writer:  w,
		program: program,
		model:   model,
		exited:  make(chan struct{}),
	}
	go func() {
		_, _ = program.Run()
		close(d.exited)
	}()
	return d
}

// Stop ends the display and clears its line. Safe on a nil display and
// safe to call more than once.
func (d *waitDisplay) Stop() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.model.done)
	select {
	case <-d.exited:
	case <-time.After(500 * time.Millisecond):
		d.program.Kill()
		<-d.exited
	}

	_, _ = fmt.Fprint(d.writer, "\r\033[K")
}
