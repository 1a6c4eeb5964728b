package table

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// WidthPolicy selects how a cell is measured.
type WidthPolicy int

const (
	// WidthLongestLine measures the longest line of a cell, so a multi-valued
	// cell is as wide as its widest value.
	WidthLongestLine WidthPolicy = iota
	// WidthJoined measures the whole cell, separators included.
	WidthJoined
)

// String returns the configuration name of the policy.
func (p WidthPolicy) String() string {
	switch p {
	case WidthLongestLine:
		return "longest_line"
	case WidthJoined:
		return "joined"
	default:
		return "unknown"
	}
}

// ParseWidthPolicy parses a configuration name. The empty string selects
// WidthLongestLine.
func ParseWidthPolicy(s string) (WidthPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "longest_line":
		return WidthLongestLine, nil
	case "joined":
		return WidthJoined, nil
	default:
		return WidthLongestLine, fmt.Errorf("unknown width policy %q (want longest_line or joined)", s)
	}
}

// Widths holds one character count per column.
type Widths []int

// CellWidth returns the width of s in Unicode scalar values under policy.
func CellWidth(s string, policy WidthPolicy) int {
	if policy == WidthJoined {
		return utf8.RuneCountInString(s)
	}

	longest := 0
	for line := range strings.SplitSeq(s, ValueSeparator) {
		longest = max(longest, utf8.RuneCountInString(line))
	}
	return longest
}

// ColumnWidths returns, for each column, the width of the widest cell in that
// column, header included. A table without rows or without columns yields an
// empty list. Rows shorter than the header contribute nothing for the columns
// they lack.
func ColumnWidths(t Table, policy WidthPolicy) Widths {
	columns := t.Columns()
	widths := make(Widths, columns)
	if columns == 0 {
		return widths
	}

	for _, row := range t {
		for i := 0; i < columns && i < len(row); i++ {
			widths[i] = max(widths[i], CellWidth(row[i], policy))
		}
	}

	return widths
}

// Total returns the sum of all column widths.
func (w Widths) Total() int {
	total := 0
	for _, n := range w {
		total += n
	}
	return total
}

// Scale converts character widths into renderer units: each width is
// multiplied by perChar, then by upscale (1.0 for none) and rounded.
func (w Widths) Scale(perChar int, upscale float64) []int {
	if upscale <= 0 {
		upscale = 1
	}
	scaled := make([]int, len(w))
	for i, n := range w {
		scaled[i] = int(math.Round(float64(n*perChar) * upscale))
	}
	return scaled
}
