package backend

import (
	"fmt"
	"time"

	"github.com/Sternrassler/fanout-bench/pkg/table"
	"github.com/tidwall/gjson"
)

// DecodeTable decodes a data response of the form
//
//	{"headers": ["Instrument", "F1", ...], "data": [["ID", v1, ...], ...]}
//
// into a table with the requested fields. Fields the backend did not return
// decode as null cells.
func DecodeTable(body []byte, fields []string) (*table.Table, error) {
	if !gjson.ValidBytes(body) {
		return nil, &FatalError{Class: ClassProtocol, Message: "invalid json", Err: ErrMalformedResponse}
	}

	doc := gjson.ParseBytes(body)
	headers := doc.Get("headers")
	if !headers.IsArray() {
		return nil, &FatalError{Class: ClassProtocol, Message: "missing headers", Err: ErrMalformedResponse}
	}

	idCol := -1
	column := make(map[string]int)
	for i, h := range headers.Array() {
		name := h.String()
		if name == table.IdentifierColumn {
			idCol = i
			continue
		}
		column[name] = i
	}
	if idCol < 0 {
		return nil, &FatalError{
			Class:   ClassProtocol,
			Message: fmt.Sprintf("missing %s column", table.IdentifierColumn),
			Err:     ErrMalformedResponse,
		}
	}

	out := table.New(fields)
	for n, rec := range doc.Get("data").Array() {
		cells := rec.Array()
		if idCol >= len(cells) {
			return nil, &FatalError{
				Class:   ClassProtocol,
				Message: fmt.Sprintf("row %d has %d cells", n, len(cells)),
				Err:     ErrMalformedResponse,
			}
		}
		row := table.Row{
			Instrument: cells[idCol].String(),
			Values:     make(map[string]table.Value, len(fields)),
		}
		for _, f := range fields {
			i, ok := column[f]
			if !ok || i >= len(cells) {
				row.Values[f] = table.Null()
				continue
			}
			row.Values[f] = decodeCell(cells[i])
		}
		out.Append(row)
	}
	return out, nil
}

func decodeCell(c gjson.Result) table.Value {
	switch c.Type {
	case gjson.Number:
		return table.Number(c.Float())
	case gjson.String:
		s := c.String()
		if len(s) == len(table.DateLayout) {
			if t, err := time.Parse(table.DateLayout, s); err == nil {
				return table.Date(t)
			}
		}
		return table.String(s)
	case gjson.True, gjson.False:
		return table.String(c.Raw)
	default:
		return table.Null()
	}
}
