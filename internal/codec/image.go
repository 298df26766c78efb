package codec

import (
	"bytes"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"

	"modelgate/internal/shared"
)

// Image decodes raster payloads and re-encodes them to a declared output
// MIME type. png, jpeg, gif and bmp are supported; the default output type
// is the lossless image/png.
type Image struct {
	// MimeType is the output encoding, defaulting to image/png.
	MimeType string
}

func (*Image) Kind() Kind { return KindImage }

func (*Image) Decode(p *Payload) (Value, error) {
	img, _, err := image.Decode(bytes.NewReader(p.Body))
	if err != nil {
		return Value{}, shared.WrapContractError(shared.KindImageDecode, err, "payload is not a decodable image")
	}
	return ImageValue(img), nil
}

func (c *Image) Encode(v Value) (*Payload, error) {
	if v.Kind != KindImage {
		return nil, wrongValue(KindImage, v.Kind)
	}
	mime := c.MimeType
	if mime == "" {
		mime = "image/png"
	}
	var buf bytes.Buffer
	var err error
	switch mime {
	case "image/png":
		err = png.Encode(&buf, v.Image)
	case "image/jpeg":
		err = jpeg.Encode(&buf, v.Image, nil)
	case "image/bmp":
		err = bmp.Encode(&buf, v.Image)
	case "image/gif":
		err = gif.Encode(&buf, v.Image, nil)
	default:
		return nil, shared.NewContractError(shared.KindEncode, "unsupported output mime type %q", mime)
	}
	if err != nil {
		return nil, shared.WrapContractError(shared.KindEncode, err, "image re-encode to %s failed", mime)
	}
	return &Payload{Body: buf.Bytes(), ContentType: mime}, nil
}
