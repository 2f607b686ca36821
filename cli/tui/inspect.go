package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/tickflow/graph"
)

type pane int

const (
	paneNodes pane = iota
	paneEdges
	paneInitial
	paneCount
)

var paneTitles = [paneCount]string{"Nodes", "Edges", "Initial packets"}

// InspectModel shows a graph description, one pane at a time.
type InspectModel struct {
	desc     *graph.Description
	pane     pane
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a model for a *graph.Description.
func NewInspectModel(data any) InspectModel {
	desc, _ := data.(*graph.Description)
	return InspectModel{desc: desc}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Next):
			m.pane = (m.pane + 1) % paneCount
		case key.Matches(msg, keys.Prev):
			m.pane = (m.pane + paneCount - 1) % paneCount
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}
	if m.desc == nil {
		return "Invalid data type for " + ViewInspectGraph
	}

	d := m.desc
	var b strings.Builder
	title := "Graph"
	if d.Name != "" {
		title += " " + d.Name
	}
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n")
	writeField(&b, "Format", string(d.Format))
	writeField(&b, "Commands", fmt.Sprintf("%d (%d resets)", d.Commands, d.Resets))
	if d.Bytes > 0 {
		writeField(&b, "Bytes", fmt.Sprintf("%d", d.Bytes))
	}
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")

	switch m.pane {
	case paneNodes:
		if len(d.Nodes) == 0 {
			b.WriteString(HelpStyle.Render("no nodes"))
		}
		for _, n := range d.Nodes {
			fmt.Fprintf(&b, "%3d  %s %s\n", n.ID, LabelStyle.Render(n.Label), ValueStyle.Render(n.Component))
		}
	case paneEdges:
		if len(d.Edges) == 0 {
			b.WriteString(HelpStyle.Render("no edges"))
		}
		for _, e := range d.Edges {
			fmt.Fprintf(&b, "%s -> %s\n", ValueStyle.Render(e.From), ValueStyle.Render(e.To))
		}
	case paneInitial:
		if len(d.Initial) == 0 {
			b.WriteString(HelpStyle.Render("no initial packets"))
		}
		for _, ip := range d.Initial {
			fmt.Fprintf(&b, "node %d port %d  %s %d\n", ip.Node, ip.Port, LabelStyle.Render(ip.Kind), ip.Value)
		}
	}

	help := HelpStyle.Render("tab/shift+tab: switch pane • q: quit")
	return BoxStyle.Render(b.String()) + "\n" + help
}

func (m InspectModel) renderTabs() string {
	tabs := make([]string, 0, paneCount)
	for p := pane(0); p < paneCount; p++ {
		style := TabStyle
		if p == m.pane {
			style = ActiveTabStyle
		}
		tabs = append(tabs, style.Render(paneTitles[p]))
	}
	return strings.Join(tabs, " ")
}

func writeField(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "%s %s\n", LabelStyle.Render(label+":"), ValueStyle.Render(value))
}

type keyMap struct {
	Quit key.Binding
	Next key.Binding
	Prev key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Next: key.NewBinding(
		key.WithKeys("tab", "right", "l"),
		key.WithHelp("tab", "next pane"),
	),
	Prev: key.NewBinding(
		key.WithKeys("shift+tab", "left", "h"),
		key.WithHelp("shift+tab", "previous pane"),
	),
}
