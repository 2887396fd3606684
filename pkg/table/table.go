// Package table holds the tabular result returned by a data backend fetch.
package table

// IdentifierColumn is the column name backends use for the instrument identifier.
const IdentifierColumn = "Instrument"

// Row is one record of a fetch result.
type Row struct {
	// Instrument is the identifier the row was requested for.
	Instrument string `json:"instrument"`

	// Values maps each requested field to its cell value.
	Values map[string]Value `json:"values"`
}

// Get returns the value of a field, or a null value if the field is absent.
func (r Row) Get(field string) Value {
	if v, ok := r.Values[field]; ok {
		return v
	}
	return Null()
}

// Table is an ordered sequence of rows for a fixed field set.
type Table struct {
	Fields []string `json:"fields"`
	Rows   []Row    `json:"rows"`
}

// New returns an empty table for the given fields.
func New(fields []string) *Table {
	return &Table{
		Fields: append([]string(nil), fields...),
		Rows:   []Row{},
	}
}

// Len returns the number of rows. A nil table has zero rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Append adds rows to the end of the table.
func (t *Table) Append(rows ...Row) {
	t.Rows = append(t.Rows, rows...)
}

// Instruments returns the identifier of every row in order.
func (t *Table) Instruments() []string {
	if t == nil {
		return nil
	}
	ids := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		ids[i] = row.Instrument
	}
	return ids
}

// Concat joins tables in the given order. Nil tables are skipped and the
// field list of the first non-nil table is kept.
func Concat(tables ...*Table) *Table {
	var out *Table
	total := 0
	for _, t := range tables {
		total += t.Len()
	}
	for _, t := range tables {
		if t == nil {
			continue
		}
		if out == nil {
			out = New(t.Fields)
			out.Rows = make([]Row, 0, total)
		}
		out.Append(t.Rows...)
	}
	if out == nil {
		return New(nil)
	}
	return out
}
