package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/papaganelli/ezstats/pkg/metrics"
	"github.com/papaganelli/ezstats/pkg/record"
)

const topN = 5

var weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			MarginRight(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("117")).
			MarginBottom(1)

	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Width(16)
	countStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

// RenderSummary draws the end-of-run report: totals, top countries and
// resources, the campus split and the weekday distribution.
func RenderSummary(s metrics.Snapshot) string {
	overview := panelStyle.Render(headerStyle.Render("Overview") + "\n" + overviewLines(s))
	if s.Records == 0 {
		return overview + "\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("No records") + "\n"
	}

	countries := panel("Top Countries", s.Records, metrics.TopN(s.Groups[metrics.ByCountry], topN))
	campus := panel("Location", s.Records, []metrics.Count{
		{Key: record.OnCampus.String(), N: s.Groups[metrics.ByLocation][record.OnCampus.String()]},
		{Key: record.OffCampus.String(), N: s.Groups[metrics.ByLocation][record.OffCampus.String()]},
	})

	days := make([]metrics.Count, 0, len(weekdays))
	for _, d := range weekdays {
		days = append(days, metrics.Count{Key: d, N: s.Groups[metrics.ByWeekday][d]})
	}
	week := panel("Weekdays", s.Records, days)

	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Top, overview, countries),
		lipgloss.JoinHorizontal(lipgloss.Top, campus, week),
	}
	if res := s.Groups[metrics.ByResource]; len(res) > 0 {
		rows = append(rows, panel("Top Resources", s.Records, metrics.TopN(res, topN)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...) + "\n"
}

func overviewLines(s metrics.Snapshot) string {
	lines := []string{
		keyStyle.Render("Files") + fmt.Sprintf("%d", s.FilesDone),
		keyStyle.Render("Lines") + fmt.Sprintf("%d", s.Lines),
		keyStyle.Render("Records") + fmt.Sprintf("%d", s.Records),
		keyStyle.Render("Skipped") + fmt.Sprintf("%d", s.Skipped),
	}

	reasons := make([]string, 0, len(s.SkipReasons))
	for r := range s.SkipReasons {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		lines = append(lines, keyStyle.Render("  "+r)+fmt.Sprintf("%d", s.SkipReasons[r]))
	}

	lines = append(lines,
		keyStyle.Render("Geo unknown")+fmt.Sprintf("%d", s.GeoUnknown),
		keyStyle.Render("Geo errors")+fmt.Sprintf("%d", s.GeoErrors),
		keyStyle.Render("Elapsed")+s.Elapsed.Round(time.Millisecond).String(),
	)
	return strings.Join(lines, "\n")
}

// panel renders counts as bars relative to total.
func panel(title string, total int, counts []metrics.Count) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(title) + "\n")
	for i, c := range counts {
		percentage := 0.0
		if total > 0 {
			percentage = float64(c.N) / float64(total) * 100
		}
		b.WriteString(keyStyle.Render(truncate(c.Key, 15)) + createBar(int(percentage), 20) +
			countStyle.Render(fmt.Sprintf(" %d (%.1f%%)", c.N, percentage)))
		if i < len(counts)-1 {
			b.WriteString("\n")
		}
	}
	return panelStyle.Render(b.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
