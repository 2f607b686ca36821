package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/tickflow/runtime"
)

// ReportModel shows a run report: outcome, counters, pins and errors.
type ReportModel struct {
	report   *runtime.RunReport
	width    int
	height   int
	quitting bool
}

// NewReportModel creates a model for a *runtime.RunReport.
func NewReportModel(data any) ReportModel {
	report, _ := data.(*runtime.RunReport)
	return ReportModel{report: report}
}

// Init implements tea.Model.
func (m ReportModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ReportModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m ReportModel) View() string {
	if m.quitting {
		return ""
	}
	r := m.report
	if r == nil {
		return "Invalid data type for " + ViewReport
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run " + r.RunID))
	b.WriteString("\n")
	if r.Graph != "" {
		writeField(&b, "Graph", r.Graph)
	}
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Outcome:"), StateStyle(string(r.Outcome)).Render(string(r.Outcome)))
	writeField(&b, "Message", r.Message)
	writeField(&b, "Exit code", fmt.Sprintf("%d", r.ExitCode))
	writeField(&b, "Duration", fmt.Sprintf("%dms", r.DurationMs))
	b.WriteString("\n")

	boxes := []string{statBox("Ticks", r.Ticks, highlightColor)}
	if e := r.Engine; e != nil {
		boxes = append(boxes,
			statBox("Delivered", e.Delivered, successColor),
			statBox("Overflows", e.Overflows, warningColor),
			statBox("Faults", e.Faults, errorColor),
		)
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n")

	if p := r.Protocol; p != nil {
		fmt.Fprintf(&b, "\n%s %s\n", LabelStyle.Render("Stream:"), StateStyle(p.State).Render(p.State))
		writeField(&b, "Commands", fmt.Sprintf("%d (%d rejected, %d resyncs)", p.Commands, p.Rejected, p.Resyncs))
	}

	if len(r.Pins) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Pins"))
		b.WriteString("\n")
		for _, pin := range r.Pins {
			level := ErrorStyle.Render("low")
			if pin.High {
				level = SuccessStyle.Render("high")
			}
			fmt.Fprintf(&b, "%s %s (%d transitions)\n", LabelStyle.Render(fmt.Sprintf("pin %d", pin.Pin)), level, pin.Transitions)
		}
	}

	if r.Serial != "" {
		b.WriteString("\n")
		writeField(&b, "Serial", fmt.Sprintf("%q", r.Serial))
	}

	if len(r.Errors) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Errors"))
		b.WriteString("\n")
		for _, e := range r.Errors {
			b.WriteString(ErrorStyle.Render("• " + e))
			b.WriteString("\n")
		}
		if r.ErrorsDropped > 0 {
			b.WriteString(HelpStyle.Render(fmt.Sprintf("%d more not shown", r.ErrorsDropped)))
			b.WriteString("\n")
		}
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return BoxStyle.Render(b.String()) + "\n" + help
}

func statBox(label string, value int64, color lipgloss.Color) string {
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	return StatBoxStyle.BorderForeground(color).Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}
