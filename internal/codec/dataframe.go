package codec

import (
	"modelgate/internal/frame"
	"modelgate/internal/shared"
	"modelgate/internal/tensor"
)

// DataFrame converts between JSON tabular payloads and frames under an
// orientation convention and optional per-column dtype constraints.
type DataFrame struct {
	// Orient defaults to records when empty.
	Orient frame.Orient
	// DTypes constrains named columns to exact scalar types. Columns not
	// listed are unconstrained.
	DTypes map[string]tensor.DType
}

func (*DataFrame) Kind() Kind { return KindFrame }

func (c *DataFrame) orient() frame.Orient {
	if c.Orient == "" {
		return frame.OrientRecords
	}
	return c.Orient
}

func (c *DataFrame) Decode(p *Payload) (Value, error) {
	f, err := frame.Parse(p.Body, c.orient())
	if err != nil {
		return Value{}, err
	}
	for name, want := range c.DTypes {
		col, ok := f.Column(name)
		if !ok {
			return Value{}, shared.NewContractError(shared.KindColumnType,
				"required column %q missing", name)
		}
		if col.DType != want {
			return Value{}, shared.NewContractError(shared.KindColumnType,
				"column %q declared %s, got %s", name, want, col.DType)
		}
	}
	return FrameValue(f), nil
}

func (c *DataFrame) Encode(v Value) (*Payload, error) {
	if v.Kind != KindFrame {
		return nil, wrongValue(KindFrame, v.Kind)
	}
	body, err := v.Frame.Marshal(c.orient())
	if err != nil {
		return nil, err
	}
	return &Payload{Body: body, ContentType: "application/json"}, nil
}
