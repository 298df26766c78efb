package codec

import (
	"modelgate/internal/shared"
)

// Field names one child codec of a multipart contract.
type Field struct {
	Name  string
	Codec Codec
}

// Multipart composes named child codecs. Declared order is retained for the
// wire form, but decoded parts are always matched to fields by NAME, never by
// position.
type Multipart struct {
	fields []Field
}

func NewMultipart(fields ...Field) *Multipart {
	return &Multipart{fields: append([]Field(nil), fields...)}
}

func (m *Multipart) Kind() Kind { return KindMultipart }

// FieldNames returns the declared field names in declaration order.
func (m *Multipart) FieldNames() []string {
	names := make([]string, len(m.fields))
	for i, f := range m.fields {
		names[i] = f.Name
	}
	return names
}

func (m *Multipart) Decode(p *Payload) (Value, error) {
	parts := map[string]Value{}
	for _, f := range m.fields {
		child, ok := p.Parts[f.Name]
		if !ok {
			return Value{}, shared.NewContractError(shared.KindMissingField,
				"request missing required field %q", f.Name)
		}
		v, err := f.Codec.Decode(child)
		if err != nil {
			return Value{}, err
		}
		parts[f.Name] = v
	}
	return PartsValue(parts), nil
}

// Encode keys the output parts by the declared field names: handler return
// values are matched to output fields by name, not by positional order.
func (m *Multipart) Encode(v Value) (*Payload, error) {
	if v.Kind != KindMultipart {
		return nil, wrongValue(KindMultipart, v.Kind)
	}
	out := &Payload{Parts: map[string]*Payload{}}
	for _, f := range m.fields {
		child, ok := v.Parts[f.Name]
		if !ok {
			return nil, shared.NewContractError(shared.KindEncode,
				"handler result missing output field %q", f.Name)
		}
		enc, err := f.Codec.Encode(child)
		if err != nil {
			return nil, err
		}
		out.Parts[f.Name] = enc
	}
	return out, nil
}
