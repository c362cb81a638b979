package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

type keyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Up:   key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
}

// UnitListModel scrolls through the plain-text lines list-units prints,
// colorizing the active-state field of each.
type UnitListModel struct {
	lines    []string
	cursor   int
	height   int
	quitting bool
}

// NewUnitListModel creates a model over the lines returned by list-units.
func NewUnitListModel(lines []string) UnitListModel {
	return UnitListModel{lines: lines, height: 20}
}

func (m UnitListModel) Init() tea.Cmd { return nil }

func (m UnitListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if msg.Height > 4 {
			m.height = msg.Height - 4
		}
		return m, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.lines)-1 {
				m.cursor++
			}
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		}
	}
	return m, nil
}

func (m UnitListModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Units (%d)", len(m.lines))))
	b.WriteString("\n")

	start := 0
	if m.cursor >= m.height {
		start = m.cursor - m.height + 1
	}
	end := start + m.height
	if end > len(m.lines) {
		end = len(m.lines)
	}

	for i := start; i < end; i++ {
		line := m.lines[i]
		state := extractActiveState(line)
		style := StateStyle(state)
		prefix := "  "
		if i == m.cursor {
			prefix = "> "
		}
		b.WriteString(prefix)
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}

	b.WriteString(HelpStyle.Render("↑/↓ to scroll, q to quit"))
	return b.String()
}

// extractActiveState pulls the "active=<state>" field out of a
// formatStatus line (ipcserver.formatStatus's tab-separated shape).
func extractActiveState(line string) string {
	for _, field := range strings.Split(line, "\t") {
		if strings.HasPrefix(field, "active=") {
			return strings.TrimPrefix(field, "active=")
		}
	}
	return ""
}

// RunUnitList launches the interactive unit-list pager.
func RunUnitList(lines []string) error {
	p := tea.NewProgram(NewUnitListModel(lines), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
