// Package table renders column aligned tables for the CLI.
package table

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// TerminalWidth returns the stdout terminal width (0 when stdout is not a terminal)
func TerminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		return w
	}
	return 0
}

// Style defines the visual styling for tables
type Style struct {
	Header    lipgloss.Style
	Cell      lipgloss.Style
	Separator string
}

// PlainStyle is a table style with no colors
func PlainStyle() Style {
	return Style{
		Header:    lipgloss.NewStyle().Bold(true).PaddingLeft(1).PaddingRight(1),
		Cell:      lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1),
		Separator: "|",
	}
}

// StyledStyle is a colorful table style
func StyledStyle() Style {
	return Style{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			PaddingLeft(1).
			PaddingRight(1),
		Cell:      lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1),
		Separator: "|",
	}
}

// Table is a simple table renderer using lipgloss
type Table struct {
	headers   []string
	rows      [][]string
	style     Style
	alignment []lipgloss.Position
	// MaxWidth truncates the last column so rows fit (0 disables)
	MaxWidth int
}

// New creates a table with plain styling
func New(headers ...string) *Table {
	t := &Table{style: PlainStyle()}
	t.SetHeaders(headers)
	return t
}

// SetHeaders sets the table headers and resets alignment to left
func (t *Table) SetHeaders(headers []string) {
	t.headers = headers
	t.alignment = make([]lipgloss.Position, len(headers))
	for i := range t.alignment {
		t.alignment[i] = lipgloss.Left
	}
}

// SetColumnAlignment sets the alignment of one column
func (t *Table) SetColumnAlignment(col int, align lipgloss.Position) {
	if col >= 0 && col < len(t.alignment) {
		t.alignment[col] = align
	}
}

// SetStyle changes the table style
func (t *Table) SetStyle(style Style) {
	t.style = style
}

// AppendRow adds a single row to the table
func (t *Table) AppendRow(row ...string) {
	t.rows = append(t.rows, row)
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) columnWidths() []int {
	n := len(t.headers)
	for _, row := range t.rows {
		n = max(n, len(row))
	}
	widths := make([]int, n)
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	for i := range widths {
		widths[i] += 2 // padding
	}
	if t.MaxWidth > 0 && n > 0 {
		total := len(t.style.Separator) * (n - 1)
		for _, w := range widths {
			total += w
		}
		if over := total - t.MaxWidth; over > 0 {
			widths[n-1] = max(widths[n-1]-over, 5)
		}
	}
	return widths
}

func (t *Table) renderRow(row []string, widths []int, style lipgloss.Style) string {
	cells := make([]string, len(widths))
	for i, width := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		align := lipgloss.Left
		if i < len(t.alignment) {
			align = t.alignment[i]
		}
		if lipgloss.Width(cell) > width-2 {
			cell = lipgloss.NewStyle().Inline(true).MaxWidth(width - 2).Render(cell)
		}
		cells[i] = style.Width(width).Align(align).Render(cell)
	}
	return strings.Join(cells, t.style.Separator)
}

// Render generates the complete table as a string
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}
	widths := t.columnWidths()

	var out strings.Builder
	if len(t.headers) > 0 {
		out.WriteString(t.renderRow(t.headers, widths, t.style.Header))
		out.WriteString("\n")
		seps := make([]string, len(widths))
		for i, w := range widths {
			seps[i] = strings.Repeat("-", w)
		}
		out.WriteString(strings.Join(seps, "+"))
		out.WriteString("\n")
	}
	for _, row := range t.rows {
		out.WriteString(t.renderRow(row, widths, t.style.Cell))
		out.WriteString("\n")
	}
	return strings.TrimRight(out.String(), "\n")
}
