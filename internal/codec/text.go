package codec

import (
	"unicode/utf8"

	"modelgate/internal/shared"
)

// Text converts between UTF-8 bytes and strings.
type Text struct{}

func (Text) Kind() Kind { return KindText }

func (Text) Decode(p *Payload) (Value, error) {
	if !utf8.Valid(p.Body) {
		return Value{}, shared.NewContractError(shared.KindDecode, "payload is not valid UTF-8")
	}
	return TextValue(string(p.Body)), nil
}

func (Text) Encode(v Value) (*Payload, error) {
	if v.Kind != KindText {
		return nil, wrongValue(KindText, v.Kind)
	}
	return &Payload{Body: []byte(v.Text), ContentType: "text/plain; charset=utf-8"}, nil
}
