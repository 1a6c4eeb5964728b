package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/isometry/dirsearch/internal/table"
)

// Output formats of the search command.
const (
	FormatTable    = "table"
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
)

var formats = []string{FormatTable, FormatJSON, FormatCSV, FormatMarkdown}

func parseFormat(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "md" {
		return FormatMarkdown, nil
	}
	if !slices.Contains(formats, s) {
		return "", fmt.Errorf("unknown output format %q (want %s)", s, strings.Join(formats, ", "))
	}
	return s, nil
}

func renderAggregate(w io.Writer, agg *table.Aggregate, format string, skipLast bool) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, agg)
	case FormatCSV:
		renderCSV(w, agg)
	case FormatMarkdown:
		renderMarkdown(w, agg, skipLast)
	default:
		renderTables(w, agg, skipLast)
	}
	return nil
}

func toRow(cells []string) prettytable.Row {
	row := make(prettytable.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}

// newWriter returns a table writer for one directory. Attribute names are
// case sensitive, so headers are not upper-cased.
func newWriter(w io.Writer, header []string, rows [][]string) prettytable.Writer {
	t := prettytable.NewWriter()
	t.SetOutputMirror(w)

	style := prettytable.StyleLight
	style.Format.Header = text.FormatDefault
	t.SetStyle(style)

	t.AppendHeader(toRow(header))
	for _, row := range rows {
		t.AppendRow(toRow(row))
	}
	return t
}

func renderTables(w io.Writer, agg *table.Aggregate, skipLast bool) {
	for i, r := range agg.Results {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		if skipLast {
			r = r.WithoutLastColumn()
		}
		header, rows, widths := r.Table.Header(), r.Table.Rows(), r.Widths

		t := newWriter(w, header, rows)
		t.SetTitle(string(r.Directory))
		configs := make([]prettytable.ColumnConfig, len(widths))
		for col, width := range widths {
			configs[col] = prettytable.ColumnConfig{Number: col + 1, WidthMin: width}
		}
		t.SetColumnConfigs(configs)
		t.Render()

		_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rows))
	}
}

func renderMarkdown(w io.Writer, agg *table.Aggregate, skipLast bool) {
	for i, r := range agg.Results {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintf(w, "## %s\n\n", r.Directory)

		if skipLast {
			r = r.WithoutLastColumn()
		}
		if r.Table.Len() == 0 {
			_, _ = fmt.Fprintln(w, "(0 rows)")
			continue
		}
		newWriter(w, r.Table.Header(), r.Table.Rows()).RenderMarkdown()
	}
}

// renderCSV writes one block per directory, separated by a blank line. The
// first column names the directory.
func renderCSV(w io.Writer, agg *table.Aggregate) {
	for i, r := range agg.Results {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		header := append([]string{"directory"}, r.Table.Header()...)
		rows := make([][]string, 0, r.Table.Len())
		for _, row := range r.Table.Rows() {
			rows = append(rows, append([]string{string(r.Directory)}, row...))
		}
		newWriter(w, header, rows).RenderCSV()
	}
}

type jsonResult struct {
	Directory string              `json:"directory"`
	Columns   []string            `json:"columns"`
	Entries   []map[string]string `json:"entries"`
}

func renderJSON(w io.Writer, agg *table.Aggregate) error {
	out := make([]jsonResult, 0, len(agg.Results))
	for _, r := range agg.Results {
		header := r.Table.Header()
		entries := make([]map[string]string, 0, r.Table.Len())
		for _, row := range r.Table.Rows() {
			entry := make(map[string]string, len(header))
			for col, name := range header {
				entry[name] = row[col]
			}
			entries = append(entries, entry)
		}
		out = append(out, jsonResult{
			Directory: string(r.Directory),
			Columns:   header,
			Entries:   entries,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
