package table

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the wire layout of date cells.
const DateLayout = "2006-01-02"

// Kind identifies the type of a cell value.
type Kind string

const (
	// KindNull marks a missing or unavailable field.
	KindNull Kind = "null"

	// KindString is a text value.
	KindString Kind = "string"

	// KindNumber is a numeric value.
	KindNumber Kind = "number"

	// KindDate is a calendar date.
	KindDate Kind = "date"
)

// Value is a typed cell of a Table.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Date time.Time
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// String returns a text value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// Date returns a date value truncated to the day in UTC.
func Date(t time.Time) Value {
	y, m, d := t.Date()
	return Value{Kind: KindDate, Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// IsNull reports whether the value is missing.
func (v Value) IsNull() bool {
	return v.Kind == "" || v.Kind == KindNull
}

// Text renders the value for reports and CSV output.
func (v Value) Text() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindDate:
		return v.Date.Format(DateLayout)
	default:
		return ""
	}
}

// Equal compares two values by kind and content.
func (v Value) Equal(o Value) bool {
	if v.IsNull() || o.IsNull() {
		return v.IsNull() && o.IsNull()
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindDate:
		return v.Date.Equal(o.Date)
	}
	return false
}

type wireValue struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the value as {"type": kind, "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var raw any
	switch v.Kind {
	case KindString:
		raw = v.Str
	case KindNumber:
		raw = v.Num
	case KindDate:
		raw = v.Date.Format(DateLayout)
	default:
		return json.Marshal(wireValue{Type: KindNull})
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.Kind, Value: data})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case KindString:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("string cell: %w", err)
		}
		*v = String(s)
	case KindNumber:
		var n float64
		if err := json.Unmarshal(w.Value, &n); err != nil {
			return fmt.Errorf("number cell: %w", err)
		}
		*v = Number(n)
	case KindDate:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("date cell: %w", err)
		}
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return fmt.Errorf("date cell: %w", err)
		}
		*v = Date(t)
	case KindNull, "":
		*v = Null()
	default:
		return fmt.Errorf("unknown cell type %q", w.Type)
	}
	return nil
}
