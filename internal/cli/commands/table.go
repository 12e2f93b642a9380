package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// table writes left-aligned columns with a coloured header
type table struct {
	writer  io.Writer
	headers []string
	rows    [][]string
	noColor bool
}

func newTable(w io.Writer, headers []string, noColor bool) *table {
	return &table{writer: w, headers: headers, noColor: noColor}
}

func (t *table) addRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render() {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	header := color.New(color.Bold, color.FgCyan)
	if t.noColor {
		header.DisableColor()
	}
	for i, h := range t.headers {
		header.Fprint(t.writer, pad(h, widths[i], i == len(t.headers)-1))
	}
	fmt.Fprintln(t.writer)

	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprint(t.writer, pad(cell, widths[i], i == len(row)-1))
			}
		}
		fmt.Fprintln(t.writer)
	}
}

func pad(s string, width int, last bool) string {
	if last {
		return s
	}
	return s + strings.Repeat(" ", width-len(s)+2)
}
