package table

import "strings"

// ValueSeparator joins the values of a multi-valued attribute inside a cell.
const ValueSeparator = "\n"

// DefaultPlaceholder is the cell content for an attribute a record does not carry.
const DefaultPlaceholder = ""

type normalizeOptions struct {
	placeholder string
}

// Option configures Normalize and Build.
type Option func(*normalizeOptions)

// WithPlaceholder sets the cell content used for missing attributes.
func WithPlaceholder(placeholder string) Option {
	return func(o *normalizeOptions) {
		o.placeholder = placeholder
	}
}

func applyOptions(opts []Option) normalizeOptions {
	o := normalizeOptions{placeholder: DefaultPlaceholder}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Normalize projects records onto attributes. The first row is a copy of
// attributes; each following row holds one cell per attribute, in attribute
// order. Values of a multi-valued attribute are joined with ValueSeparator in
// their stored order. Absent attributes, and attributes with no values, get
// the placeholder.
func Normalize(attributes []string, records []Record, opts ...Option) Table {
	o := applyOptions(opts)

	t := make(Table, 0, len(records)+1)
	t = append(t, append([]string(nil), attributes...))

	for _, record := range records {
		row := make([]string, len(attributes))
		for i, attr := range attributes {
			row[i] = cell(record, attr, o.placeholder)
		}
		t = append(t, row)
	}

	return t
}

func cell(record Record, attr, placeholder string) string {
	values, ok := record[attr]
	if !ok || len(values) == 0 {
		return placeholder
	}
	return strings.Join(values, ValueSeparator)
}
