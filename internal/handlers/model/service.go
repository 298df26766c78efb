package model

import (
	"fmt"
	"image"
	"image/color"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"modelgate/internal/codec"
	"modelgate/internal/contract"
	"modelgate/internal/ctx"
	"modelgate/internal/dispatch"
	"modelgate/internal/frame"
	"modelgate/internal/lifecycle"
	"modelgate/internal/metrics"
	"modelgate/internal/runner"
	"modelgate/internal/tensor"
)

const echoStructureSchema = `{
	"type": "object",
	"required": ["name", "endpoints"],
	"properties": {
		"name": {"type": "string"},
		"endpoints": {"type": "array", "items": {"type": "string"}}
	}
}`

// BuildService wires the demo runners into the full operation surface. The
// returned cleanup stops the runners and must be called after the service
// shuts down.
func BuildService(log *zap.SugaredLogger) (*dispatch.Service, func(), error) {
	predict, err := NewPredictRunner(log, 2)
	if err != nil {
		return nil, nil, err
	}
	stream, err := NewStreamRunner(log)
	if err != nil {
		predict.Shutdown()
		return nil, nil, err
	}
	cleanup := func() {
		predict.Shutdown()
		stream.Shutdown()
	}

	svc := dispatch.NewService("modelgate-demo", log)
	svc.OnStartup(lifecycle.Startup)
	svc.OnShutdown(lifecycle.Shutdown)

	structured, err := codec.NewJSONWithSchema(echoStructureSchema)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	endpoints := []dispatch.Endpoint{
		{
			Name:     "echo_data_metric",
			Contract: contract.New(codec.Text{}, codec.Text{}),
			Handler: func(_ *ctx.Context, in codec.Value) (codec.Value, error) {
				metrics.EchoCounter.Inc()
				return in, nil
			},
		},
		{
			Name:     "ensure_metrics_registered",
			Contract: contract.New(codec.Text{}, codec.Text{}),
			Handler: func(_ *ctx.Context, _ codec.Value) (codec.Value, error) {
				families, err := prometheus.DefaultGatherer.Gather()
				if err != nil {
					return codec.Value{}, err
				}
				for _, mf := range families {
					if mf.GetName() == "modelgate_echo_total" {
						return codec.TextValue("true"), nil
					}
				}
				return codec.Value{}, fmt.Errorf("modelgate_echo_total is not registered")
			},
		},
		{
			Name:     "echo_delay",
			Contract: contract.New(codec.NewJSON(), codec.NewJSON()),
			Handler: func(c *ctx.Context, in codec.Value) (codec.Value, error) {
				fut := predict.AsyncCall(c.Request().Context(), "echo_delay", in.JSON)
				out, err := fut.Await(c.Request().Context())
				if err != nil {
					return codec.Value{}, err
				}
				return codec.JSONValue(out), nil
			},
		},
		{
			Name:     "echo_json",
			Contract: contract.New(codec.NewJSON(), codec.NewJSON()),
			Handler: func(c *ctx.Context, in codec.Value) (codec.Value, error) {
				out, err := predict.BatchedCall(c.Request().Context(), "echo_json", in.JSON)
				if err != nil {
					return codec.Value{}, err
				}
				return codec.JSONValue(out), nil
			},
		},
		{
			Name:     "echo_json_sync",
			Contract: contract.New(codec.NewJSON(), codec.NewJSON()),
			Handler: func(c *ctx.Context, in codec.Value) (codec.Value, error) {
				out, err := predict.Call(c.Request().Context(), "echo_json", in.JSON)
				if err != nil {
					return codec.Value{}, err
				}
				return codec.JSONValue(out), nil
			},
		},
		{
			Name:     "echo_json_enforce_structure",
			Contract: contract.New(structured, codec.NewJSON()),
			Handler: func(c *ctx.Context, in codec.Value) (codec.Value, error) {
				out, err := predict.Call(c.Request().Context(), "echo_json", in.JSON)
				if err != nil {
					return codec.Value{}, err
				}
				return codec.JSONValue(out), nil
			},
		},
		{
			Name:     "echo_obj",
			Contract: contract.New(codec.NewJSON(), codec.NewJSON()),
			Handler: func(c *ctx.Context, in codec.Value) (codec.Value, error) {
				out, err := predict.Call(c.Request().Context(), "echo_obj", in.JSON)
				if err != nil {
					return codec.Value{}, err
				}
				return codec.JSONValue(out), nil
			},
		},
		{
			Name: "predict_tensor_enforce_shape",
			Contract: contract.New(
				&codec.NDArray{Shape: []int{2, 2}, EnforceShape: true},
				&codec.NDArray{Shape: []int{2, 2}},
			),
			Handler: func(c *ctx.Context, in codec.Value) (codec.Value, error) {
				out, err := predict.Call(c.Request().Context(), "predict_tensor", in.Tensor)
				if err != nil {
					return codec.Value{}, err
				}
				return codec.TensorValue(out.(*tensor.Tensor)), nil
			},
		},
		{
			Name: "predict_tensor_enforce_dtype",
			Contract: contract.New(
				&codec.NDArray{DType: tensor.Uint8, EnforceDType: true},
				&codec.NDArray{DType: tensor.Str},
			),
			Handler: func(c *ctx.Context, in codec.Value) (codec.Value, error) {
				// Widen before scaling so the result is not pinned to the
				// uint8 range.
				widened, err := in.Tensor.Cast(tensor.Int64)
				if err != nil {
					return codec.Value{}, err
				}
				out, err := predict.Call(c.Request().Context(), "predict_tensor", widened)
				if err != nil {
					return codec.Value{}, err
				}
				return codec.TensorValue(out.(*tensor.Tensor)), nil
			},
		},
		{
			Name:     "predict_tensor_multi_output",
			Contract: contract.New(&codec.NDArray{}, &codec.NDArray{}),
			Handler: func(c *ctx.Context, in codec.Value) (codec.Value, error) {
				out, err := predict.Call(c.Request().Context(), "echo_multi_tensor", in.Tensor, in.Tensor)
				if err != nil {
					return codec.Value{}, err
				}
				parts := out.([]any)
				sum, err := parts[0].(*tensor.Tensor).Add(parts[1].(*tensor.Tensor))
				if err != nil {
					return codec.Value{}, err
				}
				return codec.TensorValue(sum), nil
			},
		},
		{
			Name: "predict_frame",
			Contract: contract.New(
				&codec.DataFrame{DTypes: map[string]tensor.DType{"col1": tensor.Int64}},
				&codec.DataFrame{},
			),
			Handler: func(c *ctx.Context, in codec.Value) (codec.Value, error) {
				out, err := predict.Call(c.Request().Context(), "predict_frame", in.Frame)
				if err != nil {
					return codec.Value{}, err
				}
				return codec.FrameValue(out.(*frame.Frame)), nil
			},
		},
		{
			Name:     "predict_file",
			Contract: contract.New(codec.File{}, codec.File{}),
			Handler: func(c *ctx.Context, in codec.Value) (codec.Value, error) {
				out, err := predict.BatchedCall(c.Request().Context(), "predict_file", in.File)
				if err != nil {
					return codec.Value{}, err
				}
				return codec.FileValue(out.([]byte), in.FileType), nil
			},
		},
		{
			Name:     "echo_image",
			Contract: contract.New(&codec.Image{}, &codec.Image{MimeType: "image/bmp"}),
			Handler: func(_ *ctx.Context, in codec.Value) (codec.Value, error) {
				return in, nil
			},
		},
		{
			Name:     "predict_multi_images",
			Contract: contract.New(multiImageInput(), multiImageOutput()),
			Params:   []string{"original", "compared"},
			Multi: func(_ *ctx.Context, args []codec.Value) (codec.Value, error) {
				return mergeImageParts(args[0], args[1])
			},
		},
		{
			Name:     "predict_different_args",
			Contract: contract.New(multiImageInput(), multiImageOutput()),
			Params:   []string{"compared", "original"},
			Multi: func(_ *ctx.Context, args []codec.Value) (codec.Value, error) {
				return mergeImageParts(args[1], args[0])
			},
		},
		{
			Name:     "use_context",
			Contract: contract.New(codec.Text{}, codec.Text{}),
			Handler: func(c *ctx.Context, in codec.Value) (codec.Value, error) {
				c.SetLocal("input", in.Text)
				if msg := c.QueryParam("error"); msg != "" {
					c.SetStatus(400)
					return codec.TextValue(msg), nil
				}
				if key := c.QueryParam("state"); key != "" {
					return codec.TextValue(c.Shared.GetString(key)), nil
				}
				stored, _ := c.Local("input")
				text, _ := stored.(string)
				return codec.TextValue(text), nil
			},
		},
		{
			Name:     "predict_text_stream",
			Contract: contract.New(codec.Text{}, codec.Text{}),
			Stream: func(c *ctx.Context, in codec.Value) (*runner.Stream, error) {
				return stream.StreamCall(c.Request().Context(), "count_text_stream", in.Text)
			},
		},
		{
			Name:     "yo",
			Contract: contract.New(codec.Text{}, codec.Text{}),
			Handler: func(_ *ctx.Context, in codec.Value) (codec.Value, error) {
				return codec.TextValue("yo " + in.Text), nil
			},
		},
	}

	for _, ep := range endpoints {
		if err := svc.Register(ep); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	return svc, cleanup, nil
}

func multiImageInput() *codec.Multipart {
	return codec.NewMultipart(
		codec.Field{Name: "original", Codec: &codec.Image{}},
		codec.Field{Name: "compared", Codec: &codec.Image{}},
	)
}

func multiImageOutput() *codec.Multipart {
	return codec.NewMultipart(
		codec.Field{Name: "img1", Codec: &codec.Image{}},
		codec.Field{Name: "img2", Codec: &codec.Image{}},
	)
}

// mergeImageParts keeps the original as img1 and the pixelwise blend of both
// inputs as img2.
func mergeImageParts(original, compared codec.Value) (codec.Value, error) {
	merged := blendImages(original.Image, compared.Image)
	return codec.PartsValue(map[string]codec.Value{
		"img1": codec.ImageValue(original.Image),
		"img2": codec.ImageValue(merged),
	}), nil
}

// blendImages averages two images channel by channel over the first image's
// bounds. Pixels outside the second image's bounds pass through unchanged.
func blendImages(a, b image.Image) image.Image {
	bounds := a.Bounds()
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !image.Pt(x, y).In(b.Bounds()) {
				out.Set(x, y, a.At(x, y))
				continue
			}
			ar, ag, ab2, aa := a.At(x, y).RGBA()
			br, bg, bb, ba := b.At(x, y).RGBA()
			out.Set(x, y, color.RGBA64{
				R: uint16((ar + br) / 2),
				G: uint16((ag + bg) / 2),
				B: uint16((ab2 + bb) / 2),
				A: uint16((aa + ba) / 2),
			})
		}
	}
	return out
}
