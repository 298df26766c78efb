// Package frame implements the column-oriented table value carried by tabular
// contracts. Two JSON wire orientations are supported: "records" (a list of
// row objects) and "columns" (an object of column lists).
package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"modelgate/internal/shared"
	"modelgate/internal/tensor"
)

// Orient tags the wire orientation of a tabular payload.
type Orient string

const (
	OrientRecords Orient = "records"
	OrientColumns Orient = "columns"
)

func (o Orient) Valid() bool {
	return o == OrientRecords || o == OrientColumns
}

// Column holds one named column's scalar type and values. Values are int64,
// float64, bool or string, uniform per the dtype.
type Column struct {
	DType  tensor.DType
	Values []any
}

// Frame is a column-oriented table preserving column declaration order.
type Frame struct {
	names []string
	cols  map[string]Column
}

func New() *Frame {
	return &Frame{cols: map[string]Column{}}
}

// AddColumn appends a column. Adding a duplicate name or a length that
// disagrees with existing columns is an error.
func (f *Frame) AddColumn(name string, dtype tensor.DType, values []any) error {
	if _, exists := f.cols[name]; exists {
		return fmt.Errorf("duplicate column %q", name)
	}
	if len(f.names) > 0 && len(values) != f.NumRows() {
		return fmt.Errorf("column %q has %d rows, frame has %d", name, len(values), f.NumRows())
	}
	f.names = append(f.names, name)
	f.cols[name] = Column{DType: dtype, Values: append([]any(nil), values...)}
	return nil
}

func (f *Frame) Names() []string {
	return append([]string(nil), f.names...)
}

func (f *Frame) Column(name string) (Column, bool) {
	c, ok := f.cols[name]
	return c, ok
}

func (f *Frame) NumRows() int {
	if len(f.names) == 0 {
		return 0
	}
	return len(f.cols[f.names[0]].Values)
}

func (f *Frame) Equal(o *Frame) bool {
	if len(f.names) != len(o.names) {
		return false
	}
	for i, n := range f.names {
		if o.names[i] != n {
			return false
		}
		a, b := f.cols[n], o.cols[n]
		if a.DType != b.DType || len(a.Values) != len(b.Values) {
			return false
		}
		for j := range a.Values {
			if a.Values[j] != b.Values[j] {
				return false
			}
		}
	}
	return true
}

// Parse decodes a tabular payload in the given orientation.
func Parse(raw []byte, orient Orient) (*Frame, error) {
	switch orient {
	case OrientRecords:
		return parseRecords(raw)
	case OrientColumns:
		return parseColumns(raw)
	default:
		return nil, shared.NewContractError(shared.KindDecode, "unknown orientation %q", orient)
	}
}

func parseRecords(raw []byte) (*Frame, error) {
	names, err := firstRecordKeys(raw)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, shared.WrapContractError(shared.KindDecode, err, "malformed records payload")
	}

	f := New()
	for _, name := range names {
		values := make([]any, 0, len(records))
		for i, rec := range records {
			v, ok := rec[name]
			if !ok {
				return nil, shared.NewContractError(shared.KindDecode, "record %d missing column %q", i, name)
			}
			values = append(values, v)
		}
		if err := addParsedColumn(f, name, values); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func parseColumns(raw []byte) (*Frame, error) {
	names, err := topLevelKeys(raw)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var cols map[string][]any
	if err := dec.Decode(&cols); err != nil {
		return nil, shared.WrapContractError(shared.KindDecode, err, "malformed columns payload")
	}

	f := New()
	for _, name := range names {
		if err := addParsedColumn(f, name, cols[name]); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func addParsedColumn(f *Frame, name string, raw []any) error {
	dtype, values, err := normalizeColumn(raw)
	if err != nil {
		return shared.WrapContractError(shared.KindDecode, err, "column %q", name)
	}
	if err := f.AddColumn(name, dtype, values); err != nil {
		return shared.WrapContractError(shared.KindDecode, err, "column %q", name)
	}
	return nil
}

// normalizeColumn infers the column dtype and converts raw JSON scalars into
// their uniform Go representation. Mixed int/float columns widen to float64.
func normalizeColumn(raw []any) (tensor.DType, []any, error) {
	dtype := tensor.DType("")
	for _, v := range raw {
		var d tensor.DType
		switch x := v.(type) {
		case json.Number:
			if _, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
				d = tensor.Int64
			} else {
				d = tensor.Float64
			}
		case string:
			d = tensor.Str
		case bool:
			d = tensor.Bool
		default:
			return "", nil, fmt.Errorf("unsupported scalar %T", v)
		}
		switch {
		case dtype == "" || dtype == d:
			dtype = d
		case (dtype == tensor.Int64 && d == tensor.Float64) || (dtype == tensor.Float64 && d == tensor.Int64):
			dtype = tensor.Float64
		default:
			return "", nil, fmt.Errorf("mixed scalar types")
		}
	}
	if dtype == "" {
		dtype = tensor.Float64
	}

	values := make([]any, 0, len(raw))
	for _, v := range raw {
		switch dtype {
		case tensor.Int64:
			n, _ := v.(json.Number).Int64()
			values = append(values, n)
		case tensor.Float64:
			fv, _ := v.(json.Number).Float64()
			values = append(values, fv)
		default:
			values = append(values, v)
		}
	}
	return dtype, values, nil
}

// Marshal encodes the frame in the given orientation, preserving column order.
func (f *Frame) Marshal(orient Orient) ([]byte, error) {
	var buf bytes.Buffer
	switch orient {
	case OrientRecords:
		buf.WriteByte('[')
		for row := 0; row < f.NumRows(); row++ {
			if row > 0 {
				buf.WriteByte(',')
			}
			if err := f.writeRow(&buf, row); err != nil {
				return nil, err
			}
		}
		buf.WriteByte(']')
	case OrientColumns:
		buf.WriteByte('{')
		for i, name := range f.names {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeKey(&buf, name); err != nil {
				return nil, err
			}
			vals, err := json.Marshal(f.cols[name].Values)
			if err != nil {
				return nil, shared.WrapContractError(shared.KindEncode, err, "column %q", name)
			}
			buf.Write(vals)
		}
		buf.WriteByte('}')
	default:
		return nil, shared.NewContractError(shared.KindEncode, "unknown orientation %q", orient)
	}
	return buf.Bytes(), nil
}

func (f *Frame) writeRow(buf *bytes.Buffer, row int) error {
	buf.WriteByte('{')
	for i, name := range f.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(buf, name); err != nil {
			return err
		}
		v, err := json.Marshal(f.cols[name].Values[row])
		if err != nil {
			return shared.WrapContractError(shared.KindEncode, err, "column %q row %d", name, row)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return nil
}

func writeKey(buf *bytes.Buffer, name string) error {
	k, err := json.Marshal(name)
	if err != nil {
		return shared.WrapContractError(shared.KindEncode, err, "column name %q", name)
	}
	buf.Write(k)
	buf.WriteByte(':')
	return nil
}

// firstRecordKeys scans the first row object's keys in document order, which
// encoding/json maps would otherwise lose.
func firstRecordKeys(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, shared.WrapContractError(shared.KindDecode, err, "malformed records payload")
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, shared.NewContractError(shared.KindDecode, "records payload must be a JSON array")
	}
	if !dec.More() {
		return nil, nil
	}
	return objectKeys(dec)
}

// topLevelKeys scans a top-level object's keys in document order.
func topLevelKeys(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	return objectKeys(dec)
}

func objectKeys(dec *json.Decoder) ([]string, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, shared.WrapContractError(shared.KindDecode, err, "malformed tabular payload")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, shared.NewContractError(shared.KindDecode, "expected a JSON object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, shared.WrapContractError(shared.KindDecode, err, "malformed tabular payload")
		}
		key, ok := tok.(string)
		if !ok {
			return nil, shared.NewContractError(shared.KindDecode, "malformed tabular payload")
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, shared.WrapContractError(shared.KindDecode, err, "malformed tabular payload")
		}
	}
	return keys, nil
}
