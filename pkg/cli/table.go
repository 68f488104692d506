package cli

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/term"
)

// Table renders column-aligned output sized to the terminal. Rows are
// buffered; Flush measures the columns, narrows the widest ones until
// the table fits the terminal, and word-wraps cells that no longer
// fit. Empty tables produce no output.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// Row buffers one row. Missing cells render empty, extra cells are
// dropped.
func (t *Table) Row(values ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(values) {
			row[i] = values[i]
		}
	}
	t.rows = append(t.rows, row)
}

// Flush writes headers, a dash divider and the buffered rows to
// stdout. If no rows were added, nothing is printed.
func (t *Table) Flush() {
	if len(t.rows) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visualLen(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if l := visualLen(cell); l > widths[i] {
				widths[i] = l
			}
		}
	}
	widths = capWidths(widths, t.headers, terminalWidth(), 0)

	t.printRow(t.headers, widths)
	dividers := make([]string, len(t.headers))
	for i := range dividers {
		dividers[i] = strings.Repeat("-", widths[i])
	}
	t.printRow(dividers, widths)
	for _, row := range t.rows {
		t.printRow(row, widths)
	}
}

// printRow emits one logical row, spilling wrapped cells onto
// continuation lines under their own column.
func (t *Table) printRow(cells []string, widths []int) {
	wrapped := make([][]string, len(cells))
	lines := 1
	for i, cell := range cells {
		wrapped[i] = wrapCell(cell, widths[i])
		if len(wrapped[i]) > lines {
			lines = len(wrapped[i])
		}
	}
	for ln := 0; ln < lines; ln++ {
		parts := make([]string, len(cells))
		for i := range cells {
			cell := ""
			if ln < len(wrapped[i]) {
				cell = wrapped[i][ln]
			}
			parts[i] = pad(cell, widths[i])
		}
		fmt.Println(strings.TrimRight(strings.Join(parts, "  "), " "))
	}
}

// terminalWidth reports the width of stdout, or 80 when stdout is not
// a terminal (pipes, CI logs).
func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

var ansiSeq = regexp.MustCompile("\x1b\\[[0-9;]*m")

// visualLen is the printed width of s, ignoring ANSI color sequences.
func visualLen(s string) int {
	return len([]rune(ansiSeq.ReplaceAllString(s, "")))
}

// pad right-pads s with spaces to the given printed width.
func pad(s string, width int) string {
	gap := width - visualLen(s)
	if gap <= 0 {
		return s
	}
	return s + strings.Repeat(" ", gap)
}

// capWidths narrows columns until the table fits the terminal. The
// widest column gives way first and never drops below its header's
// width; when every column is at that minimum the table is allowed to
// overflow. prefix counts leading characters outside the columns,
// columns are separated by two spaces.
func capWidths(widths []int, headers []string, termWidth, prefix int) []int {
	out := make([]int, len(widths))
	copy(out, widths)
	mins := make([]int, len(headers))
	for i, h := range headers {
		mins[i] = visualLen(h)
	}

	total := func() int {
		n := prefix + 2*(len(out)-1)
		for _, w := range out {
			n += w
		}
		return n
	}
	for total() > termWidth {
		widest := -1
		for i, w := range out {
			if w > mins[i] && (widest == -1 || w > out[widest]) {
				widest = i
			}
		}
		if widest == -1 {
			return out
		}
		cut := out[widest] - mins[widest]
		if over := total() - termWidth; cut > over {
			cut = over
		}
		out[widest] -= cut
	}
	return out
}

// wrapCell splits a cell into lines no wider than width. Wrapping
// prefers spaces; a single word longer than the width is hard-broken.
// Cells carrying ANSI sequences are never split, so a color and its
// reset stay on one line.
func wrapCell(s string, width int) []string {
	if visualLen(s) <= width || width <= 0 {
		return []string{s}
	}
	if strings.Contains(s, "\x1b") {
		return []string{s}
	}

	var lines []string
	line := ""
	for _, word := range strings.Fields(s) {
		for len(word) > width {
			if line != "" {
				lines = append(lines, line)
				line = ""
			}
			lines = append(lines, word[:width])
			word = word[width:]
		}
		switch {
		case line == "":
			line = word
		case len(line)+1+len(word) <= width:
			line += " " + word
		default:
			lines = append(lines, line)
			line = word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
