package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// table renders rows of plain text with aligned columns.
type table struct {
	title   string
	headers []string
	rows    [][]string
}

func newTable(title string, headers ...string) *table {
	return &table{title: title, headers: headers}
}

func (t *table) add(cells ...any) {
	row := make([]string, len(cells))
	for i, c := range cells {
		row[i] = fmt.Sprint(c)
	}
	t.rows = append(t.rows, row)
}

func (t *table) render(w io.Writer) {
	var sb strings.Builder

	if t.title != "" {
		sb.WriteString(t.title + "\n")
	}

	if len(t.rows) == 0 {
		sb.WriteString("(none)\n")
		io.WriteString(w, sb.String())
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	cell := lipgloss.NewStyle().PaddingRight(2)

	line := func(cells []string) {
		for i, c := range cells {
			if i >= len(widths) {
				break
			}
			if i == len(cells)-1 {
				sb.WriteString(c)
				continue
			}
			sb.WriteString(cell.Width(widths[i] + 2).Render(c))
		}
		sb.WriteString("\n")
	}

	line(t.headers)

	total := 0
	for _, w := range widths {
		total += w + 2
	}
	sb.WriteString(strings.Repeat("-", max(total-2, 0)) + "\n")

	for _, row := range t.rows {
		line(row)
	}

	io.WriteString(w, sb.String())
}
