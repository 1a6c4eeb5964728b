// Package table turns heterogeneous directory search results into rectangular
// tables with per-column width hints.
//
// A Record maps attribute names to one or more values. Normalize projects a
// list of records onto an ordered attribute list, ColumnWidths measures the
// result, and Build does both for every directory of a search.
package table

// DirectoryID names a directory that was searched, e.g. "ldap" or "ad".
type DirectoryID string

// Record is one directory entry: attribute name to values, in directory order.
type Record map[string][]string

// Table is a header row followed by one row per record. Every row has the same
// length as the header.
type Table [][]string

// Header returns the header row, or nil for a table without rows.
func (t Table) Header() []string {
	if len(t) == 0 {
		return nil
	}
	return t[0]
}

// Rows returns the data rows (everything after the header).
func (t Table) Rows() [][]string {
	if len(t) < 2 {
		return nil
	}
	return t[1:]
}

// Len returns the number of data rows.
func (t Table) Len() int {
	return len(t.Rows())
}

// Columns returns the column count, taken from the header.
func (t Table) Columns() int {
	return len(t.Header())
}
