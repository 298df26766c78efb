// Package codec implements the bidirectional converters between raw request
// payloads and typed in-memory values, one codec per supported payload shape.
package codec

import (
	"image"

	"modelgate/internal/frame"
	"modelgate/internal/shared"
	"modelgate/internal/tensor"
)

// Kind identifies a payload shape.
type Kind string

const (
	KindText      Kind = "text"
	KindJSON      Kind = "json"
	KindTensor    Kind = "tensor"
	KindFrame     Kind = "frame"
	KindFile      Kind = "file"
	KindImage     Kind = "image"
	KindMultipart Kind = "multipart"
)

// Payload is the raw side of a codec: body bytes plus a content type, or
// named parts when the payload is multipart.
type Payload struct {
	Body        []byte
	ContentType string
	Parts       map[string]*Payload
}

// Value is the typed side: a tagged union whose tag always matches the codec
// kind that produced it. Exactly one field besides Kind is meaningful.
type Value struct {
	Kind   Kind
	Text   string
	JSON   any
	Tensor *tensor.Tensor
	Frame  *frame.Frame
	File   []byte
	// FileType carries the file value's content-type tag.
	FileType string
	Image    image.Image
	Parts    map[string]Value
}

func TextValue(s string) Value           { return Value{Kind: KindText, Text: s} }
func JSONValue(v any) Value              { return Value{Kind: KindJSON, JSON: v} }
func TensorValue(t *tensor.Tensor) Value { return Value{Kind: KindTensor, Tensor: t} }
func FrameValue(f *frame.Frame) Value    { return Value{Kind: KindFrame, Frame: f} }
func FileValue(b []byte, ct string) Value {
	return Value{Kind: KindFile, File: b, FileType: ct}
}
func ImageValue(img image.Image) Value { return Value{Kind: KindImage, Image: img} }
func PartsValue(parts map[string]Value) Value {
	return Value{Kind: KindMultipart, Parts: parts}
}

// Codec converts between raw payloads and typed values under a declared,
// immutable configuration. Codecs are stateless after construction and safe
// for unlimited concurrent use.
type Codec interface {
	Kind() Kind
	Decode(p *Payload) (Value, error)
	Encode(v Value) (*Payload, error)
}

func wrongValue(want Kind, got Kind) error {
	return shared.NewContractError(shared.KindEncode, "expected %s value, got %s", want, got)
}
