package codec

import (
	"modelgate/internal/shared"
	"modelgate/internal/tensor"
)

// NDArray converts between JSON tensor payloads and tensors under declared
// shape and dtype constraints.
type NDArray struct {
	// Shape may contain tensor.Wildcard dimensions. Nil means unconstrained.
	Shape        []int
	EnforceShape bool
	DType        tensor.DType
	EnforceDType bool
}

func (*NDArray) Kind() Kind { return KindTensor }

func (c *NDArray) Decode(p *Payload) (Value, error) {
	t, err := tensor.Parse(p.Body)
	if err != nil {
		return Value{}, err
	}
	if c.EnforceShape && c.Shape != nil && !t.MatchShape(c.Shape) {
		return Value{}, shared.NewContractError(shared.KindShapeMismatch,
			"declared shape %v, got %v", c.Shape, t.Shape())
	}
	if c.DType != "" {
		if c.EnforceDType {
			if t.DType() != c.DType {
				return Value{}, shared.NewContractError(shared.KindDtypeMismatch,
					"declared dtype %s, got %s", c.DType, t.DType())
			}
		} else {
			cast, err := t.Cast(c.DType)
			if err != nil {
				return Value{}, shared.WrapContractError(shared.KindDecode, err,
					"payload cannot be represented as %s", c.DType)
			}
			t = cast
		}
	}
	return TensorValue(t), nil
}

func (c *NDArray) Encode(v Value) (*Payload, error) {
	if v.Kind != KindTensor {
		return nil, wrongValue(KindTensor, v.Kind)
	}
	t := v.Tensor
	if c.DType != "" && t.DType() != c.DType {
		cast, err := t.Cast(c.DType)
		if err != nil {
			return nil, err
		}
		t = cast
	}
	body, err := t.Marshal()
	if err != nil {
		return nil, err
	}
	return &Payload{Body: body, ContentType: "application/json"}, nil
}
