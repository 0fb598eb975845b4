package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/papaganelli/ezstats/pkg/metrics"
	"github.com/papaganelli/ezstats/pkg/record"
)

func sampleTally() *metrics.Tally {
	tally := metrics.NewTally()
	tally.SetFiles(2)
	tally.FileDone()
	recs := []record.Record{
		{Date: "15", Weekday: "Friday", Hour: "08", Country: "United States", State: "Virginia", City: "Richmond", Location: record.OffCampus, Resource: "JSTOR"},
		{Date: "15", Weekday: "Friday", Hour: "09", Country: "United States", State: "Ohio", City: "Dayton", Location: record.OffCampus},
		{Date: "16", Weekday: "Saturday", Hour: "10", Country: "Canada", State: "Ontario", City: "Toronto", Location: record.OnCampus},
	}
	for _, r := range recs {
		tally.LineRead()
		_ = tally.Write(r)
	}
	tally.LineRead()
	tally.Skip(string(record.ReasonTimestamp))
	return tally
}

// TestCreateBar tests the bar width for edge percentages.
func TestCreateBar(t *testing.T) {
	tests := []struct {
		name       string
		percentage int
		width      int
		filled     int
	}{
		{"empty", 0, 10, 0},
		{"half", 50, 10, 5},
		{"full", 100, 10, 10},
		{"over", 150, 10, 10},
		{"negative", -5, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := createBar(tt.percentage, tt.width)
			if got := strings.Count(bar, "█"); got != tt.filled {
				t.Errorf("createBar(%d, %d) filled %d, want %d", tt.percentage, tt.width, got, tt.filled)
			}
			if got := strings.Count(bar, "█") + strings.Count(bar, "░"); got != tt.width {
				t.Errorf("createBar(%d, %d) width %d, want %d", tt.percentage, tt.width, got, tt.width)
			}
		})
	}
}

// TestProgressUpdate tests that ticks refresh the snapshot and done quits.
func TestProgressUpdate(t *testing.T) {
	tally := metrics.NewTally()
	done := make(chan struct{})
	m := NewProgress(tally, done, nil)

	tally.LineRead()
	tally.LineRead()

	updated, cmd := m.Update(tickMsg(time.Now()))
	model := updated.(Model)
	if model.snap.Lines != 2 {
		t.Errorf("Lines after tick = %d, want 2", model.snap.Lines)
	}
	if cmd == nil {
		t.Error("tick should schedule the next tick")
	}

	updated, cmd = model.Update(doneMsg{})
	model = updated.(Model)
	if !model.finished {
		t.Error("model should be finished after doneMsg")
	}
	if cmd == nil {
		t.Fatal("doneMsg should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("doneMsg should return tea.Quit")
	}
}

// TestProgressQuitCancels tests that quitting stops the batch.
func TestProgressQuitCancels(t *testing.T) {
	cancelled := false
	m := NewProgress(metrics.NewTally(), make(chan struct{}), func() { cancelled = true })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if !cancelled {
		t.Error("q should cancel the batch")
	}
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should return tea.Quit")
	}
}

// TestWaitForDone tests the done command.
func TestWaitForDone(t *testing.T) {
	done := make(chan struct{})
	close(done)
	if _, ok := waitForDone(done)().(doneMsg); !ok {
		t.Error("waitForDone should return doneMsg once done is closed")
	}
}

// TestProgressView tests the rendered progress.
func TestProgressView(t *testing.T) {
	m := NewProgress(sampleTally(), make(chan struct{}), nil)
	updated, _ := m.Update(tickMsg(time.Now()))
	view := updated.(Model).View()

	for _, want := range []string{"EZSTATS", "1/2", "Records", "Skipped", "Lines/s"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}
}

// TestRenderSummary tests the end-of-run report.
func TestRenderSummary(t *testing.T) {
	out := RenderSummary(sampleTally().Snapshot())

	for _, want := range []string{
		"Overview", "Top Countries", "United States", "Canada",
		"Location", "On Campus", "Off Campus",
		"Weekdays", "Monday", "Friday", "Saturday",
		"Top Resources", "JSTOR", "timestamp",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderSummary() missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "66.7%") {
		t.Errorf("RenderSummary() should show the share of United States:\n%s", out)
	}
}

// TestRenderSummaryEmpty tests the report of a run without records.
func TestRenderSummaryEmpty(t *testing.T) {
	out := RenderSummary(metrics.NewTally().Snapshot())
	if !strings.Contains(out, "No records") {
		t.Errorf("RenderSummary() of an empty run = %q", out)
	}
	if strings.Contains(out, "Top Countries") {
		t.Error("empty run should not render group panels")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"Canada", 15, "Canada"},
		{"United Kingdom of Great Britain", 15, "United Kingd..."},
		{"Côte d'Ivoire", 15, "Côte d'Ivoire"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
