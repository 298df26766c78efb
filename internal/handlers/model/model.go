// Package model assembles the built-in demo runners and the service exposing
// them through typed contracts. It is the serving-side analog of a loaded
// model: a pure-Go backing unit with single, batched and streaming entry
// points.
package model

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"modelgate/internal/frame"
	"modelgate/internal/runner"
	"modelgate/internal/tensor"
)

// NewPredictRunner builds the cpu-bound backing unit. The predict_tensor
// coefficient is bound at construction, the way a model is wrapped with
// partial call arguments before serving.
func NewPredictRunner(log *zap.SugaredLogger, coefficient int64) (*runner.Runner, error) {
	return runner.New(runner.Config{
		Name:          "predict_runner",
		Resources:     []string{"cpu"},
		MultiThreaded: true,
		Options:       map[string]map[string]any{"predict_tensor": {"coefficient": coefficient}},
		Log:           log,
	},
		runner.Method{
			Name:      "echo_json",
			Batchable: true,
			Fn: func(_ context.Context, args []any, _ map[string]any) (any, error) {
				return args[0], nil
			},
			BatchFn: func(_ context.Context, items []any, _ map[string]any) ([]any, error) {
				return items, nil
			},
		},
		runner.Method{
			Name: "echo_obj",
			Fn: func(_ context.Context, args []any, _ map[string]any) (any, error) {
				return args[0], nil
			},
		},
		runner.Method{
			Name: "echo_delay",
			Fn: func(ctx context.Context, args []any, _ map[string]any) (any, error) {
				select {
				case <-time.After(5 * time.Millisecond):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				return args[0], nil
			},
		},
		runner.Method{
			Name: "predict_tensor",
			Fn: func(_ context.Context, args []any, opts map[string]any) (any, error) {
				t, ok := args[0].(*tensor.Tensor)
				if !ok {
					return nil, fmt.Errorf("predict_tensor wants a tensor, got %T", args[0])
				}
				k := int64(1)
				if opt, ok := opts["coefficient"].(int64); ok {
					k = opt
				}
				return t.Scale(k), nil
			},
		},
		runner.Method{
			Name: "echo_multi_tensor",
			Fn: func(_ context.Context, args []any, _ map[string]any) (any, error) {
				return args, nil
			},
		},
		runner.Method{
			Name: "predict_multi_tensor",
			Fn: func(_ context.Context, args []any, _ map[string]any) (any, error) {
				a, aok := args[0].(*tensor.Tensor)
				b, bok := args[1].(*tensor.Tensor)
				if !aok || !bok {
					return nil, fmt.Errorf("predict_multi_tensor wants two tensors")
				}
				return a.Add(b)
			},
		},
		runner.Method{
			Name: "predict_frame",
			Fn: func(_ context.Context, args []any, _ map[string]any) (any, error) {
				f, ok := args[0].(*frame.Frame)
				if !ok {
					return nil, fmt.Errorf("predict_frame wants a frame, got %T", args[0])
				}
				col, ok := f.Column("col1")
				if !ok {
					return nil, fmt.Errorf("predict_frame wants a col1 column")
				}
				out := make([]any, len(col.Values))
				for i, v := range col.Values {
					out[i] = v.(int64) * 2
				}
				result := frame.New()
				if err := result.AddColumn("col1", tensor.Int64, out); err != nil {
					return nil, err
				}
				return result, nil
			},
		},
		runner.Method{
			Name:      "predict_file",
			Batchable: true,
			Fn: func(_ context.Context, args []any, _ map[string]any) (any, error) {
				return args[0], nil
			},
			BatchFn: func(_ context.Context, items []any, _ map[string]any) ([]any, error) {
				return items, nil
			},
		},
	)
}

// NewStreamRunner builds the streaming backing unit: count_text_stream emits
// ten numbered chunks, then completes.
func NewStreamRunner(log *zap.SugaredLogger) (*runner.Runner, error) {
	return runner.New(runner.Config{
		Name:          "stream_runner",
		Resources:     []string{"cpu"},
		MultiThreaded: true,
		Log:           log,
	},
		runner.Method{
			Name: "count_text_stream",
			Fn: func(_ context.Context, args []any, _ map[string]any) (any, error) {
				return args[0], nil
			},
			StreamFn: func(ctx context.Context, args []any, _ map[string]any, emit func(any) error) error {
				text, _ := args[0].(string)
				for i := 0; i < 10; i++ {
					select {
					case <-time.After(time.Millisecond):
					case <-ctx.Done():
						return ctx.Err()
					}
					if err := emit(fmt.Sprintf("%s %d", text, i)); err != nil {
						return err
					}
				}
				return nil
			},
		},
	)
}
