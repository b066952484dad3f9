package style

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Column defines a table column with name and width.
type Column struct {
	Name  string
	Width int
	Style lipgloss.Style
}

// Table provides styled table rendering for status output.
type Table struct {
	columns     []Column
	rows        [][]string
	indent      string
	headerStyle lipgloss.Style
}

// NewTable creates a new table with the given columns.
func NewTable(columns ...Column) *Table {
	return &Table{
		columns:     columns,
		indent:      "  ",
		headerStyle: Bold,
	}
}

// AddRow appends a row. Missing cells render empty; extra cells are dropped.
func (t *Table) AddRow(cells ...string) *Table {
	t.rows = append(t.rows, cells)
	return t
}

// Render returns the table as a string.
func (t *Table) Render() string {
	var b strings.Builder

	b.WriteString(t.indent)
	for i, col := range t.columns {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(t.headerStyle.Render(pad(col.Name, col.Width)))
	}
	b.WriteString("\n")

	for _, row := range t.rows {
		b.WriteString(t.indent)
		for i, col := range t.columns {
			if i > 0 {
				b.WriteString("  ")
			}
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			b.WriteString(col.Style.Render(pad(cell, col.Width)))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func pad(s string, width int) string {
	if width <= 0 {
		return s
	}
	if len(s) > width {
		if width <= 1 {
			return s[:width]
		}
		return s[:width-1] + "…"
	}
	return fmt.Sprintf("%-*s", width, s)
}
