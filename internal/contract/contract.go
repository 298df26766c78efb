// Package contract pairs an input codec with an output codec for one
// operation. Contracts are immutable once bound and safe for unlimited
// concurrent use.
package contract

import (
	"modelgate/internal/codec"
)

type Contract struct {
	in  codec.Codec
	out codec.Codec
}

func New(in, out codec.Codec) *Contract {
	return &Contract{in: in, out: out}
}

func (c *Contract) Input() codec.Codec  { return c.in }
func (c *Contract) Output() codec.Codec { return c.out }

// DecodeRequest applies the input codec, including any schema, shape, dtype
// or column constraints the codec configuration declares.
func (c *Contract) DecodeRequest(p *codec.Payload) (codec.Value, error) {
	return c.in.Decode(p)
}

// EncodeResponse applies the output codec to the handler's result.
func (c *Contract) EncodeResponse(v codec.Value) (*codec.Payload, error) {
	return c.out.Encode(v)
}
