// Package runner abstracts a backing computation unit behind four calling
// conventions: blocking call, async call, batched call and streaming call.
// Resource declarations are descriptive metadata for an external placement
// collaborator; nothing here enforces placement.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"modelgate/internal/shared"
)

// Method declares one named entry point of a backing unit. Fn is required.
// BatchFn enables the batched calling convention, StreamFn the streaming one.
type Method struct {
	Name      string
	Batchable bool
	Fn        func(ctx context.Context, args []any, opts map[string]any) (any, error)
	BatchFn   func(ctx context.Context, items []any, opts map[string]any) ([]any, error)
	StreamFn  func(ctx context.Context, args []any, opts map[string]any, emit func(chunk any) error) error
}

type Config struct {
	Name          string
	Resources     []string
	MultiThreaded bool
	// Options binds static per-method options at construction, the way a
	// model is wrapped with partial call arguments before serving.
	Options map[string]map[string]any

	BatchWindow  time.Duration
	MaxBatchSize int
	QueueSize    int
	Log          *zap.SugaredLogger
}

type Runner struct {
	name          string
	resources     []string
	multiThreaded bool
	methods       map[string]*Method
	options       map[string]map[string]any
	batchers      map[string]*batcher
	log           *zap.SugaredLogger
}

func New(cfg Config, methods ...Method) (*Runner, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("runner name is required")
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = shared.DefaultBatchWindow
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = shared.DefaultMaxBatchSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = shared.DefaultQueueSize
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	r := &Runner{
		name:          cfg.Name,
		resources:     append([]string(nil), cfg.Resources...),
		multiThreaded: cfg.MultiThreaded,
		methods:       map[string]*Method{},
		options:       cfg.Options,
		batchers:      map[string]*batcher{},
		log:           log,
	}
	for i := range methods {
		m := methods[i]
		if m.Name == "" || m.Fn == nil {
			return nil, fmt.Errorf("method %q needs a name and a function", m.Name)
		}
		if _, dup := r.methods[m.Name]; dup {
			return nil, fmt.Errorf("duplicate method %q", m.Name)
		}
		if m.Batchable && m.BatchFn == nil {
			return nil, fmt.Errorf("batchable method %q needs a batched entry point", m.Name)
		}
		r.methods[m.Name] = &m
		if m.Batchable {
			b := newBatcher(r, &m, cfg.BatchWindow, cfg.MaxBatchSize, cfg.QueueSize)
			r.batchers[m.Name] = b
			b.start()
		}
	}
	return r, nil
}

func (r *Runner) Name() string        { return r.name }
func (r *Runner) Resources() []string { return append([]string(nil), r.resources...) }
func (r *Runner) MultiThreaded() bool { return r.multiThreaded }

// Shutdown stops the batching drains. In-flight batched calls are failed.
func (r *Runner) Shutdown() {
	for _, b := range r.batchers {
		b.stop()
	}
}

func (r *Runner) method(name string) (*Method, error) {
	m, ok := r.methods[name]
	if !ok {
		return nil, shared.NewContractError(shared.KindRunnerCall,
			"runner %s has no method %q", r.name, name)
	}
	return m, nil
}

func (r *Runner) opts(method string) map[string]any {
	if r.options == nil {
		return nil
	}
	return r.options[method]
}

// Call blocks until the backing unit returns a single result or fails.
func (r *Runner) Call(ctx context.Context, method string, args ...any) (any, error) {
	m, err := r.method(method)
	if err != nil {
		return nil, err
	}
	out, err := m.Fn(ctx, args, r.opts(method))
	if err != nil {
		return nil, shared.WrapContractError(shared.KindRunnerCall, err,
			"runner %s method %s failed", r.name, method)
	}
	return out, nil
}

// Future is a pending async call result.
type Future struct {
	ch chan callResult
}

type callResult struct {
	out any
	err error
}

// Await yields the result, or the context error if ctx ends first. The
// underlying call keeps running past its point of no return and is discarded.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case res := <-f.ch:
		return res.out, res.err
	case <-ctx.Done():
		return nil, shared.WrapContractError(shared.KindRunnerCall, ctx.Err(), "async call abandoned")
	}
}

// AsyncCall dispatches the method without blocking the caller.
func (r *Runner) AsyncCall(ctx context.Context, method string, args ...any) *Future {
	f := &Future{ch: make(chan callResult, 1)}
	go func() {
		out, err := r.Call(ctx, method, args...)
		f.ch <- callResult{out: out, err: err}
	}()
	return f
}

// BatchedCall submits one logical item. The handle is free to coalesce it
// with concurrently pending items into one underlying invocation; the caller
// still receives exactly the result correlated to its own item by position.
func (r *Runner) BatchedCall(ctx context.Context, method string, item any) (any, error) {
	b, ok := r.batchers[method]
	if !ok {
		// Not batchable: degrade to a single-item call.
		return r.Call(ctx, method, item)
	}
	return b.submit(ctx, item)
}
