package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/papaganelli/ezstats/pkg/metrics"
)

const refreshRate = 250 * time.Millisecond

// tickMsg is sent on every timer tick
type tickMsg time.Time

// doneMsg is sent once the batch has finished
type doneMsg struct{}

// Model shows the progress of a running batch.
type Model struct {
	tally    *metrics.Tally
	done     <-chan struct{}
	cancel   context.CancelFunc
	snap     metrics.Snapshot
	width    int
	finished bool
}

// NewProgress watches tally until done is closed. Quitting early calls cancel.
func NewProgress(tally *metrics.Tally, done <-chan struct{}, cancel context.CancelFunc) *Model {
	return &Model{
		tally:  tally,
		done:   done,
		cancel: cancel,
		snap:   tally.Snapshot(),
	}
}

// Init starts the refresh timer
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		waitForDone(m.done),
	)
}

// Update handles messages and refreshes the snapshot
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		if m.finished {
			return m, nil
		}
		m.snap = m.tally.Snapshot()
		return m, tickCmd()

	case doneMsg:
		m.snap = m.tally.Snapshot()
		m.finished = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the progress panel
func (m Model) View() string {
	var (
		primaryColor = lipgloss.Color("86")  // Cyan
		dimColor     = lipgloss.Color("241") // Dark gray
		errorColor   = lipgloss.Color("196") // Red
	)

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(primaryColor).
		Background(lipgloss.Color("235")).
		Padding(0, 2)

	labelStyle := lipgloss.NewStyle().Foreground(dimColor).Width(14)
	valueStyle := lipgloss.NewStyle().Foreground(primaryColor).Bold(true)

	barWidth := 30
	if m.width > 0 && m.width/2 > barWidth {
		barWidth = m.width / 2
	}

	s := m.snap
	percent := 0
	if s.Files > 0 {
		percent = s.FilesDone * 100 / s.Files
	}

	status := "processing, press 'q' to stop"
	if m.finished {
		status = "done"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("EZSTATS") + "  " + lipgloss.NewStyle().Foreground(dimColor).Render(status) + "\n\n")
	b.WriteString(labelStyle.Render("Files") + createBar(percent, barWidth) + valueStyle.Render(fmt.Sprintf(" %d/%d", s.FilesDone, s.Files)) + "\n")
	b.WriteString(labelStyle.Render("Lines") + valueStyle.Render(fmt.Sprintf("%d", s.Lines)) + "\n")
	b.WriteString(labelStyle.Render("Records") + valueStyle.Render(fmt.Sprintf("%d", s.Records)) + "\n")

	skipped := valueStyle.Render(fmt.Sprintf("%d", s.Skipped))
	if s.Skipped > 0 {
		skipped = lipgloss.NewStyle().Foreground(errorColor).Bold(true).Render(fmt.Sprintf("%d", s.Skipped))
	}
	b.WriteString(labelStyle.Render("Skipped") + skipped + "\n")
	b.WriteString(labelStyle.Render("Lines/s") + valueStyle.Render(fmt.Sprintf("%.0f", s.Rate.Current)) +
		lipgloss.NewStyle().Foreground(dimColor).Render(fmt.Sprintf("  (peak %.0f)", s.Rate.Peak)) + "\n")
	b.WriteString(labelStyle.Render("Elapsed") + valueStyle.Render(s.Elapsed.Round(time.Second).String()) + "\n")
	return b.String()
}

// Run shows the progress on stderr until the batch is done or the user quits.
func (m *Model) Run() error {
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	_, err := p.Run()
	return err
}

// tickCmd returns a command that ticks at the refresh rate
func tickCmd() tea.Cmd {
	return tea.Tick(refreshRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForDone blocks until the batch finishes
func waitForDone(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return doneMsg{}
	}
}

// createBar creates a simple progress bar
func createBar(percentage, width int) string {
	if percentage > 100 {
		percentage = 100
	}
	if percentage < 0 {
		percentage = 0
	}

	filled := int(float64(width) * float64(percentage) / 100)
	empty := width - filled

	bar := strings.Repeat("█", filled) + strings.Repeat("░", empty)
	return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render(bar)
}
