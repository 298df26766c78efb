// Package tensor implements the n-dimensional numeric array value carried by
// array contracts. The wire format is JSON: either bare nested lists, or an
// envelope {"dtype": ..., "shape": ..., "data": [...]} when the client needs
// to pin a concrete scalar type.
package tensor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"modelgate/internal/shared"
)

// DType is a symbolic scalar-type tag.
type DType string

const (
	Uint8   DType = "uint8"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Float32 DType = "float32"
	Float64 DType = "float64"
	Bool    DType = "bool"
	Str     DType = "str"
)

func (d DType) Valid() bool {
	switch d {
	case Uint8, Int32, Int64, Float32, Float64, Bool, Str:
		return true
	}
	return false
}

func (d DType) integer() bool {
	return d == Uint8 || d == Int32 || d == Int64
}

func (d DType) float() bool {
	return d == Float32 || d == Float64
}

// Wildcard marks a shape dimension that accepts any size.
const Wildcard = -1

// Tensor is a dense row-major array with a concrete shape and dtype. Exactly
// one backing slice is populated, chosen by the dtype family.
type Tensor struct {
	dtype  DType
	shape  []int
	ints   []int64
	floats []float64
	bools  []bool
	strs   []string
}

func numElems(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// New builds a tensor from a flat row-major data slice. data must be one of
// []int64, []float64, []bool or []string matching the dtype family, with
// exactly as many elements as the shape holds.
func New(dtype DType, shape []int, data any) (*Tensor, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("unknown dtype %q", dtype)
	}
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension %d in shape", d)
		}
	}
	t := &Tensor{dtype: dtype, shape: append([]int(nil), shape...)}
	want := numElems(shape)
	switch v := data.(type) {
	case []int64:
		if !dtype.integer() {
			return nil, fmt.Errorf("dtype %s cannot hold integer data", dtype)
		}
		for _, x := range v {
			if err := checkIntRange(dtype, x); err != nil {
				return nil, err
			}
		}
		t.ints = append([]int64(nil), v...)
	case []float64:
		if !dtype.float() {
			return nil, fmt.Errorf("dtype %s cannot hold float data", dtype)
		}
		t.floats = append([]float64(nil), v...)
	case []bool:
		if dtype != Bool {
			return nil, fmt.Errorf("dtype %s cannot hold bool data", dtype)
		}
		t.bools = append([]bool(nil), v...)
	case []string:
		if dtype != Str {
			return nil, fmt.Errorf("dtype %s cannot hold string data", dtype)
		}
		t.strs = append([]string(nil), v...)
	default:
		return nil, fmt.Errorf("unsupported data slice %T", data)
	}
	if t.Len() != want {
		return nil, fmt.Errorf("shape %v holds %d elements, got %d", shape, want, t.Len())
	}
	return t, nil
}

func checkIntRange(dtype DType, x int64) error {
	switch dtype {
	case Uint8:
		if x < 0 || x > math.MaxUint8 {
			return fmt.Errorf("value %d out of range for uint8", x)
		}
	case Int32:
		if x < math.MinInt32 || x > math.MaxInt32 {
			return fmt.Errorf("value %d out of range for int32", x)
		}
	}
	return nil
}

func (t *Tensor) DType() DType { return t.dtype }

func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

func (t *Tensor) Len() int {
	switch {
	case t.ints != nil:
		return len(t.ints)
	case t.floats != nil:
		return len(t.floats)
	case t.bools != nil:
		return len(t.bools)
	default:
		return len(t.strs)
	}
}

func (t *Tensor) Ints() []int64     { return append([]int64(nil), t.ints...) }
func (t *Tensor) Floats() []float64 { return append([]float64(nil), t.floats...) }
func (t *Tensor) Bools() []bool     { return append([]bool(nil), t.bools...) }
func (t *Tensor) Strs() []string    { return append([]string(nil), t.strs...) }

func (t *Tensor) Equal(o *Tensor) bool {
	if t.dtype != o.dtype || len(t.shape) != len(o.shape) {
		return false
	}
	for i := range t.shape {
		if t.shape[i] != o.shape[i] {
			return false
		}
	}
	if t.Len() != o.Len() {
		return false
	}
	for i := range t.ints {
		if t.ints[i] != o.ints[i] {
			return false
		}
	}
	for i := range t.floats {
		if t.floats[i] != o.floats[i] {
			return false
		}
	}
	for i := range t.bools {
		if t.bools[i] != o.bools[i] {
			return false
		}
	}
	for i := range t.strs {
		if t.strs[i] != o.strs[i] {
			return false
		}
	}
	return true
}

// MatchShape reports whether the tensor's shape satisfies a declared shape.
// Wildcard dimensions accept any size, every other dimension must match.
func (t *Tensor) MatchShape(declared []int) bool {
	if len(declared) != len(t.shape) {
		return false
	}
	for i, d := range declared {
		if d == Wildcard {
			continue
		}
		if d != t.shape[i] {
			return false
		}
	}
	return true
}

// Scale multiplies every element by k, preserving dtype. Non-numeric tensors
// are returned unchanged.
func (t *Tensor) Scale(k int64) *Tensor {
	out := t.clone()
	for i := range out.ints {
		out.ints[i] *= k
	}
	for i := range out.floats {
		out.floats[i] *= float64(k)
	}
	return out
}

// Add returns the elementwise sum of two tensors of identical dtype and shape.
func (t *Tensor) Add(o *Tensor) (*Tensor, error) {
	if t.dtype != o.dtype {
		return nil, fmt.Errorf("dtype mismatch %s vs %s", t.dtype, o.dtype)
	}
	if !t.MatchShape(o.shape) {
		return nil, fmt.Errorf("shape mismatch %v vs %v", t.shape, o.shape)
	}
	out := t.clone()
	for i := range out.ints {
		out.ints[i] += o.ints[i]
	}
	for i := range out.floats {
		out.floats[i] += o.floats[i]
	}
	if t.dtype == Bool || t.dtype == Str {
		return nil, fmt.Errorf("cannot add %s tensors", t.dtype)
	}
	return out, nil
}

func (t *Tensor) clone() *Tensor {
	return &Tensor{
		dtype:  t.dtype,
		shape:  append([]int(nil), t.shape...),
		ints:   append([]int64(nil), t.ints...),
		floats: append([]float64(nil), t.floats...),
		bools:  append([]bool(nil), t.bools...),
		strs:   append([]string(nil), t.strs...),
	}
}

// Cast converts the tensor to another dtype. Casts that cannot represent a
// value exactly fail with a cast error; casting to str always succeeds.
func (t *Tensor) Cast(to DType) (*Tensor, error) {
	if !to.Valid() {
		return nil, shared.NewContractError(shared.KindCast, "unknown dtype %q", to)
	}
	if to == t.dtype {
		return t.clone(), nil
	}
	out := &Tensor{dtype: to, shape: append([]int(nil), t.shape...)}
	switch {
	case to == Str:
		out.strs = make([]string, 0, t.Len())
		for _, x := range t.ints {
			out.strs = append(out.strs, strconv.FormatInt(x, 10))
		}
		for _, x := range t.floats {
			out.strs = append(out.strs, strconv.FormatFloat(x, 'g', -1, 64))
		}
		for _, x := range t.bools {
			out.strs = append(out.strs, strconv.FormatBool(x))
		}
		out.strs = append(out.strs, t.strs...)
	case to.integer():
		out.ints = make([]int64, 0, t.Len())
		for _, x := range t.ints {
			if err := checkIntRange(to, x); err != nil {
				return nil, shared.WrapContractError(shared.KindCast, err, "cast %s to %s", t.dtype, to)
			}
			out.ints = append(out.ints, x)
		}
		for _, x := range t.floats {
			if x != math.Trunc(x) {
				return nil, shared.NewContractError(shared.KindCast, "lossy cast of %v to %s", x, to)
			}
			n := int64(x)
			if err := checkIntRange(to, n); err != nil {
				return nil, shared.WrapContractError(shared.KindCast, err, "cast %s to %s", t.dtype, to)
			}
			out.ints = append(out.ints, n)
		}
		if t.bools != nil || t.strs != nil {
			return nil, shared.NewContractError(shared.KindCast, "cannot cast %s to %s", t.dtype, to)
		}
	case to.float():
		out.floats = make([]float64, 0, t.Len())
		for _, x := range t.ints {
			out.floats = append(out.floats, float64(x))
		}
		out.floats = append(out.floats, t.floats...)
		if t.bools != nil || t.strs != nil {
			return nil, shared.NewContractError(shared.KindCast, "cannot cast %s to %s", t.dtype, to)
		}
	default:
		return nil, shared.NewContractError(shared.KindCast, "cannot cast %s to %s", t.dtype, to)
	}
	return out, nil
}

// Parse decodes the JSON wire form. A top-level object is treated as the
// dtype envelope, anything else as bare nested lists with the dtype inferred
// from the scalars (integers → int64, any fraction → float64).
func Parse(raw []byte) (*Tensor, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, shared.WrapContractError(shared.KindDecode, err, "malformed tensor payload")
	}

	data := doc
	declared := DType("")
	var declaredShape []int
	if env, ok := doc.(map[string]any); ok {
		inner, exists := env["data"]
		if !exists {
			return nil, shared.NewContractError(shared.KindDecode, "tensor envelope missing data field")
		}
		data = inner
		if dt, exists := env["dtype"]; exists {
			s, ok := dt.(string)
			if !ok || !DType(s).Valid() {
				return nil, shared.NewContractError(shared.KindDecode, "invalid envelope dtype %v", dt)
			}
			declared = DType(s)
		}
		if sh, exists := env["shape"]; exists {
			ds, err := parseEnvelopeShape(sh)
			if err != nil {
				return nil, err
			}
			declaredShape = ds
		}
	}

	shape, err := inferShape(data)
	if err != nil {
		return nil, err
	}
	if declaredShape != nil && !sameShape(declaredShape, shape) {
		return nil, shared.NewContractError(shared.KindDecode,
			"envelope shape %v does not match data shape %v", declaredShape, shape)
	}
	flat := make([]any, 0, numElems(shape))
	flat = flatten(data, flat)

	dtype := declared
	if dtype == "" {
		dtype, err = inferDType(flat)
		if err != nil {
			return nil, err
		}
	}
	t, err := build(dtype, shape, flat)
	if err != nil {
		return nil, shared.WrapContractError(shared.KindDecode, err, "tensor payload does not hold %s scalars", dtype)
	}
	return t, nil
}

// Marshal encodes the tensor into its envelope wire form.
func (t *Tensor) Marshal() ([]byte, error) {
	nested := t.nest(0, t.shape)
	out, err := json.Marshal(map[string]any{
		"dtype": t.dtype,
		"shape": t.shape,
		"data":  nested,
	})
	if err != nil {
		return nil, shared.WrapContractError(shared.KindEncode, err, "tensor serialization failed")
	}
	return out, nil
}

func (t *Tensor) at(i int) any {
	switch {
	case t.ints != nil:
		return t.ints[i]
	case t.floats != nil:
		return t.floats[i]
	case t.bools != nil:
		return t.bools[i]
	default:
		return t.strs[i]
	}
}

// nest rebuilds the nested-list form from the flat backing, consuming
// elements starting at offset. Only used with the tensor's own shape.
func (t *Tensor) nest(offset int, shape []int) any {
	if len(shape) == 0 {
		return t.at(offset)
	}
	stride := numElems(shape[1:])
	out := make([]any, shape[0])
	for i := range out {
		out[i] = t.nest(offset+i*stride, shape[1:])
	}
	return out
}

func inferShape(v any) ([]int, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, nil
	}
	shape := []int{len(list)}
	if len(list) == 0 {
		return shape, nil
	}
	first, err := inferShape(list[0])
	if err != nil {
		return nil, err
	}
	for _, child := range list[1:] {
		cs, err := inferShape(child)
		if err != nil {
			return nil, err
		}
		if !sameShape(first, cs) {
			return nil, shared.NewContractError(shared.KindDecode, "ragged tensor payload")
		}
	}
	return append(shape, first...), nil
}

// parseEnvelopeShape decodes the envelope's shape list into dimensions.
func parseEnvelopeShape(v any) ([]int, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, shared.NewContractError(shared.KindDecode, "invalid envelope shape %v", v)
	}
	shape := make([]int, len(list))
	for i, d := range list {
		n, ok := d.(json.Number)
		if !ok {
			return nil, shared.NewContractError(shared.KindDecode, "invalid envelope shape dimension %v", d)
		}
		dim, err := n.Int64()
		if err != nil || dim < 0 {
			return nil, shared.NewContractError(shared.KindDecode, "invalid envelope shape dimension %v", d)
		}
		shape[i] = int(dim)
	}
	return shape, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func flatten(v any, acc []any) []any {
	if list, ok := v.([]any); ok {
		for _, child := range list {
			acc = flatten(child, acc)
		}
		return acc
	}
	return append(acc, v)
}

func inferDType(flat []any) (DType, error) {
	dtype := DType("")
	merge := func(d DType) error {
		switch {
		case dtype == "" || dtype == d:
			dtype = d
		case dtype.integer() && d.float(), dtype.float() && d.integer():
			dtype = Float64
		default:
			return shared.NewContractError(shared.KindDecode, "mixed scalar types in tensor payload")
		}
		return nil
	}
	for _, v := range flat {
		switch x := v.(type) {
		case json.Number:
			if _, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
				if err := merge(Int64); err != nil {
					return "", err
				}
			} else if err := merge(Float64); err != nil {
				return "", err
			}
		case string:
			if err := merge(Str); err != nil {
				return "", err
			}
		case bool:
			if err := merge(Bool); err != nil {
				return "", err
			}
		default:
			return "", shared.NewContractError(shared.KindDecode, "unsupported tensor scalar %T", v)
		}
	}
	if dtype == "" {
		dtype = Float64
	}
	return dtype, nil
}

func build(dtype DType, shape []int, flat []any) (*Tensor, error) {
	switch {
	case dtype.integer():
		ints := make([]int64, 0, len(flat))
		for _, v := range flat {
			num, ok := v.(json.Number)
			if !ok {
				return nil, fmt.Errorf("scalar %v is not numeric", v)
			}
			n, err := strconv.ParseInt(num.String(), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("scalar %v is not an integer", v)
			}
			ints = append(ints, n)
		}
		return New(dtype, shape, ints)
	case dtype.float():
		floats := make([]float64, 0, len(flat))
		for _, v := range flat {
			num, ok := v.(json.Number)
			if !ok {
				return nil, fmt.Errorf("scalar %v is not numeric", v)
			}
			f, err := num.Float64()
			if err != nil {
				return nil, err
			}
			floats = append(floats, f)
		}
		return New(dtype, shape, floats)
	case dtype == Bool:
		bools := make([]bool, 0, len(flat))
		for _, v := range flat {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("scalar %v is not a bool", v)
			}
			bools = append(bools, b)
		}
		return New(dtype, shape, bools)
	default:
		strs := make([]string, 0, len(flat))
		for _, v := range flat {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("scalar %v is not a string", v)
			}
			strs = append(strs, s)
		}
		return New(dtype, shape, strs)
	}
}
