package dispatch

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"time"

	"modelgate/internal/audit"
	"modelgate/internal/codec"
	"modelgate/internal/ctx"
	"modelgate/internal/metrics"
	"modelgate/internal/shared"
)

// Request lifecycle phases. A request moves through them in order; Failed is
// absorbing and reachable from any non-terminal phase.
const (
	phaseReceived   = "received"
	phaseDecoding   = "decoding"
	phaseValidating = "validating"
	phaseInvoking   = "invoking"
	phaseEncoding   = "encoding"
	phaseCompleted  = "completed"
)

// Dispatch executes one operation against the request carried by c. Exactly
// one response is produced: the encoded result, or a single error response.
func (s *Service) Dispatch(c *ctx.Context, name string) error {
	start := time.Now()
	ep, ok := s.endpoints[name]
	if !ok {
		return s.fail(c, name, phaseReceived, start, shared.ErrUnknownOperation)
	}
	c.LogValues.Operation = name

	payload, err := payloadFromRequest(c)
	if err != nil {
		return s.fail(c, name, phaseDecoding, start, err)
	}

	in, err := ep.Contract.DecodeRequest(payload)
	if err != nil {
		return s.fail(c, name, phaseFor(err, phaseDecoding), start, err)
	}

	if ep.Stream != nil {
		return s.dispatchStream(c, ep, in, start)
	}

	var out codec.Value
	switch {
	case ep.Multi != nil:
		args := make([]codec.Value, len(ep.Params))
		for i, p := range ep.Params {
			args[i] = in.Parts[p]
		}
		out, err = ep.Multi(c, args)
	default:
		out, err = ep.Handler(c, in)
	}
	if err != nil {
		return s.fail(c, name, phaseInvoking, start, err)
	}

	resp, err := ep.Contract.EncodeResponse(out)
	if err != nil {
		return s.fail(c, name, phaseEncoding, start, err)
	}

	status := c.Status()
	if err := writePayload(c, ep, status, resp); err != nil {
		// Headers are out: the response is what it is, log and account.
		c.LogValues.AddError(err)
	}
	s.finish(c, name, start, status, "")
	return nil
}

func (s *Service) dispatchStream(c *ctx.Context, ep *Endpoint, in codec.Value, start time.Time) error {
	stream, err := ep.Stream(c, in)
	if err != nil {
		return s.fail(c, ep.Name, phaseInvoking, start, err)
	}
	defer stream.Close()

	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	status := c.Status()
	c.Response().WriteHeader(status)

	reqCtx := c.Request().Context()
	for {
		if reqCtx.Err() != nil {
			// Consumer went away: release the producer, no DONE marker.
			c.LogValues.AddError(reqCtx.Err())
			s.finish(c, ep.Name, start, status, string(shared.KindStreamAborted))
			return nil
		}
		chunk, err := stream.Recv()
		if err == io.EOF {
			fmt.Fprint(c.Response(), "data: [DONE]\n\n")
			c.Response().Flush()
			s.finish(c, ep.Name, start, status, "")
			return nil
		}
		if err != nil {
			// Abnormal end after partial chunks: terminate without the DONE
			// marker so the consumer can tell the difference.
			c.LogValues.AddError(err)
			c.LogValues.LogLevel = "ERROR"
			s.finish(c, ep.Name, start, status, string(shared.KindOf(err)))
			return nil
		}
		if _, err := fmt.Fprintf(c.Response(), "data: %v\n\n", chunk); err != nil {
			s.finish(c, ep.Name, start, status, string(shared.KindStreamAborted))
			return nil
		}
		c.Response().Flush()
		metrics.StreamChunks.WithLabelValues(ep.Name).Inc()
	}
}

// phaseFor distinguishes malformed-payload failures from contract-violation
// failures surfaced by the same decode step.
func phaseFor(err error, fallback string) string {
	switch shared.KindOf(err) {
	case shared.KindSchemaValidation, shared.KindShapeMismatch,
		shared.KindDtypeMismatch, shared.KindColumnType:
		return phaseValidating
	default:
		return fallback
	}
}

type errorBody struct {
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
	RequestID string `json:"request_id,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Service) fail(c *ctx.Context, name, phase string, start time.Time, err error) error {
	c.LogValues.AddError(err)
	c.LogValues.Phase = phase

	var status int
	var kind shared.ErrorKind
	var rerr *shared.RequestError
	if errors.As(err, &rerr) {
		status = rerr.StatusCode
		kind = shared.KindHandler
	} else {
		kind = shared.KindOf(err)
		status = shared.StatusFor(kind)
	}
	metrics.ErrorCount.WithLabelValues(name, string(kind)).Inc()
	s.finish(c, name, start, status, string(kind))

	return c.JSON(status, errorResponse{Error: errorBody{
		Kind:      string(kind),
		Detail:    err.Error(),
		RequestID: c.Reqid,
	}})
}

func (s *Service) finish(c *ctx.Context, name string, start time.Time, status int, errKind string) {
	duration := time.Since(start)
	c.LogValues.StatusCode = status
	c.LogValues.RequestDuration = duration
	if c.LogValues.Phase == "" {
		c.LogValues.Phase = phaseCompleted
	}
	metrics.RequestCount.WithLabelValues(name, strconv.Itoa(status)).Inc()
	metrics.RequestDuration.WithLabelValues(name).Observe(duration.Seconds())
	if s.recorder != nil {
		s.recorder.Record(audit.Record{
			Operation: name,
			RequestID: c.Reqid,
			Status:    status,
			ErrorKind: errKind,
			Duration:  duration,
		})
	}
}

// payloadFromRequest reads the raw request into a payload, splitting
// multipart bodies into named parts.
func payloadFromRequest(c *ctx.Context) (*codec.Payload, error) {
	req := c.Request()
	mediaType, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err == nil && mediaType == "multipart/form-data" {
		mr, err := req.MultipartReader()
		if err != nil {
			return nil, shared.WrapContractError(shared.KindDecode, err, "malformed multipart request")
		}
		parts := map[string]*codec.Payload{}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, shared.WrapContractError(shared.KindDecode, err, "malformed multipart request")
			}
			body, err := io.ReadAll(part)
			if err != nil {
				return nil, shared.WrapContractError(shared.KindDecode, err, "failed reading part %q", part.FormName())
			}
			parts[part.FormName()] = &codec.Payload{
				Body:        body,
				ContentType: part.Header.Get("Content-Type"),
			}
		}
		return &codec.Payload{Parts: parts}, nil
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, shared.WrapContractError(shared.KindDecode, err, "failed to read request body")
	}
	return &codec.Payload{Body: body, ContentType: req.Header.Get("Content-Type")}, nil
}

// writePayload writes the encoded response. Multipart payloads are written
// in the output contract's declared field order.
func writePayload(c *ctx.Context, ep *Endpoint, status int, p *codec.Payload) error {
	if p.Parts == nil {
		return c.Blob(status, p.ContentType, p.Body)
	}

	order := make([]string, 0, len(p.Parts))
	if mp, ok := ep.Contract.Output().(*codec.Multipart); ok {
		order = mp.FieldNames()
	} else {
		for name := range p.Parts {
			order = append(order, name)
		}
	}

	w := multipart.NewWriter(c.Response())
	c.Response().Header().Set("Content-Type", w.FormDataContentType())
	c.Response().WriteHeader(status)
	for _, name := range order {
		part := p.Parts[name]
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, name))
		if part.ContentType != "" {
			hdr.Set("Content-Type", part.ContentType)
		}
		pw, err := w.CreatePart(hdr)
		if err != nil {
			return err
		}
		if _, err := pw.Write(part.Body); err != nil {
			return err
		}
	}
	return w.Close()
}
