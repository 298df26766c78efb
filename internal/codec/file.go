package codec

// File passes opaque binary payloads through unchanged, carrying the
// content-type tag alongside the bytes.
type File struct{}

func (File) Kind() Kind { return KindFile }

func (File) Decode(p *Payload) (Value, error) {
	ct := p.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return FileValue(p.Body, ct), nil
}

func (File) Encode(v Value) (*Payload, error) {
	if v.Kind != KindFile {
		return nil, wrongValue(KindFile, v.Kind)
	}
	ct := v.FileType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &Payload{Body: v.File, ContentType: ct}, nil
}
