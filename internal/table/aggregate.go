package table

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Directory describes one searched directory: its identifier and the ordered
// attribute projection list that defines its columns.
type Directory struct {
	ID         DirectoryID
	Attributes []string
}

// Result is the normalized table and its width hints for one directory.
type Result struct {
	Directory DirectoryID
	Table     Table
	Widths    Widths
}

// WithoutLastColumn returns a copy of r with the trailing column dropped
// from the table and the widths. A result without columns is returned as is.
func (r Result) WithoutLastColumn() Result {
	n := r.Table.Columns() - 1
	if n < 0 {
		return r
	}

	t := make(Table, len(r.Table))
	for i, row := range r.Table {
		t[i] = row[:min(n, len(row))]
	}
	return Result{
		Directory: r.Directory,
		Table:     t,
		Widths:    r.Widths[:min(n, len(r.Widths))],
	}
}

// Aggregate pairs one Result per directory, in directory configuration order.
// It is built once per completed query and never modified afterwards.
type Aggregate struct {
	Results []Result
}

// Get returns the result for id.
func (a *Aggregate) Get(id DirectoryID) (Result, bool) {
	if a == nil {
		return Result{}, false
	}
	for _, r := range a.Results {
		if r.Directory == id {
			return r, true
		}
	}
	return Result{}, false
}

// Matches returns the total number of data rows across all directories.
func (a *Aggregate) Matches() int {
	if a == nil {
		return 0
	}
	n := 0
	for _, r := range a.Results {
		n += r.Table.Len()
	}
	return n
}

// Build normalizes and sizes the raw records of every directory. Directories
// are processed concurrently and independently; a directory missing from raw
// gets a header-only table.
func Build(ctx context.Context, dirs []Directory, raw map[DirectoryID][]Record, policy WidthPolicy, opts ...Option) (*Aggregate, error) {
	results := make([]Result, len(dirs))

	g, ctx := errgroup.WithContext(ctx)
	for i, dir := range dirs {
		records := raw[dir.ID]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t := Normalize(dir.Attributes, records, opts...)
			results[i] = Result{
				Directory: dir.ID,
				Table:     t,
				Widths:    ColumnWidths(t, policy),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Aggregate{Results: results}, nil
}
