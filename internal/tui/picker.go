// Package tui holds the interactive pieces of the worker CLI.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/ticket"
	"github.com/atelier-dev/atelier/internal/ui"
)

var pickerTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(ui.ColorAccent)

// epicItem adapts an epic issue to the list widget.
type epicItem struct {
	issue *beads.Issue
}

func (i epicItem) Title() string {
	return fmt.Sprintf("%s  %s", i.issue.ID, i.issue.Title)
}

func (i epicItem) Description() string {
	parts := []string{string(ticket.CanonicalizeStatus(i.issue.Status))}
	if n := len(i.issue.Children); n > 0 {
		parts = append(parts, fmt.Sprintf("%d children", n))
	}
	if i.issue.Assignee != "" {
		parts = append(parts, "assigned to "+i.issue.Assignee)
	}
	return strings.Join(parts, " · ")
}

func (i epicItem) FilterValue() string {
	return i.issue.ID + " " + i.issue.Title
}

type pickerModel struct {
	list    list.Model
	choice  string
	aborted bool
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.aborted = true
			return m, tea.Quit
		case "enter":
			if item, ok := m.list.SelectedItem().(epicItem); ok {
				m.choice = item.issue.ID
			}
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m pickerModel) View() string {
	return m.list.View()
}

// EpicPicker selects an epic interactively under the prompt policy.
// Without a terminal it falls back to the first candidate.
type EpicPicker struct{}

// NewEpicPicker creates an EpicPicker.
func NewEpicPicker() *EpicPicker {
	return &EpicPicker{}
}

// Pick presents the candidates and returns the chosen epic id. An aborted
// selection returns empty, letting the caller apply its fallback.
func (p *EpicPicker) Pick(epics []*beads.Issue) (string, error) {
	if len(epics) == 0 {
		return "", nil
	}
	if !ui.IsTerminal() {
		return epics[0].ID, nil
	}

	items := make([]list.Item, len(epics))
	for i, e := range epics {
		items[i] = epicItem{issue: e}
	}

	delegate := list.NewDefaultDelegate()
	l := list.New(items, delegate, 0, 0)
	l.Title = "Select an epic"
	l.Styles.Title = pickerTitleStyle
	l.SetShowStatusBar(false)

	final, err := tea.NewProgram(pickerModel{list: l}, tea.WithAltScreen()).Run()
	if err != nil {
		return "", fmt.Errorf("running epic picker: %w", err)
	}

	m, ok := final.(pickerModel)
	if !ok || m.aborted {
		return "", nil
	}
	return m.choice, nil
}
