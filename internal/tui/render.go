package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"

	"github.com/isometry/dirsearch/internal/table"
)

// Options are the renderer policies.
type Options struct {
	SkipLastField   bool    // Hide the trailing column of every table
	Zebra           bool    // Alternate row backgrounds
	Upscale         float64 // Column width slack factor, 1.0 for none
	MinFilterLength int     // Shown in the input placeholder
}

// renderResult draws one directory table. Column widths come from the
// aggregate so every table keeps its layout while the terminal is resized.
func renderResult(r table.Result, opts Options, st styles) string {
	if opts.SkipLastField {
		r = r.WithoutLastColumn()
	}
	header, rows, widths := r.Table.Header(), r.Table.Rows(), r.Widths

	upscale := opts.Upscale
	if upscale < 1 {
		upscale = 1
	}
	cols := widths.Scale(1, upscale)

	t := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(st.Border).
		Headers(header...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			var s lipgloss.Style
			switch {
			case row == lgtable.HeaderRow:
				s = st.Header
			case opts.Zebra && row%2 == 1:
				s = st.OddRow
			default:
				s = st.Cell
			}
			if col < len(cols) {
				// Padding is inside the width
				s = s.Width(cols[col] + 2)
			}
			return s
		})

	var b strings.Builder
	b.WriteString(st.Title.Render(string(r.Directory)))
	b.WriteString("\n")
	b.WriteString(t.String())
	if len(rows) == 0 {
		b.WriteString("\n")
		b.WriteString(st.Muted.Render("no matches"))
	}
	return b.String()
}

// renderAggregate draws every directory table, one below the other.
func renderAggregate(agg *table.Aggregate, opts Options, st styles) string {
	if agg == nil {
		return ""
	}
	parts := make([]string, len(agg.Results))
	for i, r := range agg.Results {
		parts[i] = renderResult(r, opts, st)
	}
	return strings.Join(parts, "\n\n")
}

func matchesSummary(agg *table.Aggregate) string {
	counts := make([]string, len(agg.Results))
	for i, r := range agg.Results {
		counts[i] = fmt.Sprintf("%s: %d", r.Directory, r.Table.Len())
	}
	return strings.Join(counts, ", ")
}
