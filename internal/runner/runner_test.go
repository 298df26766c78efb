package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"modelgate/internal/shared"
)

func newEchoRunner(t *testing.T, extra ...Method) *Runner {
	t.Helper()
	methods := append([]Method{
		{
			Name: "echo",
			Fn: func(_ context.Context, args []any, _ map[string]any) (any, error) {
				return args[0], nil
			},
		},
		{
			Name:      "echo_batch",
			Batchable: true,
			Fn: func(_ context.Context, args []any, _ map[string]any) (any, error) {
				return args[0], nil
			},
			BatchFn: func(_ context.Context, items []any, _ map[string]any) ([]any, error) {
				out := make([]any, len(items))
				for i, it := range items {
					out[i] = fmt.Sprintf("%v!", it)
				}
				return out, nil
			},
		},
	}, extra...)
	r, err := New(Config{
		Name:         "test_runner",
		Resources:    []string{"cpu"},
		BatchWindow:  20 * time.Millisecond,
		MaxBatchSize: 16,
	}, methods...)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	t.Cleanup(r.Shutdown)
	return r
}

func TestCallAndAsyncCall(t *testing.T) {
	r := newEchoRunner(t)

	out, err := r.Call(context.Background(), "echo", "hi")
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if out != "hi" {
		t.Fatalf("unexpected result %v", out)
	}

	fut := r.AsyncCall(context.Background(), "echo", 42)
	out, err = fut.Await(context.Background())
	if err != nil {
		t.Fatalf("async call failed: %v", err)
	}
	if out != 42 {
		t.Fatalf("unexpected result %v", out)
	}
}

func TestCallUnknownMethod(t *testing.T) {
	r := newEchoRunner(t)
	_, err := r.Call(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected unknown method to fail")
	}
	if shared.KindOf(err) != shared.KindRunnerCall {
		t.Fatalf("expected runner_call kind, got %s", shared.KindOf(err))
	}
}

func TestBatchedCallEachCallerGetsOwnResult(t *testing.T) {
	r := newEchoRunner(t)

	const n = 24
	var wg sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.BatchedCall(context.Background(), "echo_batch", fmt.Sprintf("item-%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		want := fmt.Sprintf("item-%d!", i)
		if results[i] != want {
			t.Fatalf("caller %d got %v, want %v", i, results[i], want)
		}
	}
}

func TestBatchedCallFailureFansOutToAllCallers(t *testing.T) {
	boom := errors.New("unit exploded")
	r := newEchoRunner(t, Method{
		Name:      "explode",
		Batchable: true,
		Fn: func(_ context.Context, args []any, _ map[string]any) (any, error) {
			return args[0], nil
		},
		BatchFn: func(_ context.Context, _ []any, _ map[string]any) ([]any, error) {
			return nil, boom
		},
	})

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.BatchedCall(context.Background(), "explode", i)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] == nil {
			t.Fatalf("caller %d did not observe the shared failure", i)
		}
		if shared.KindOf(errs[i]) != shared.KindRunnerCall {
			t.Fatalf("caller %d got kind %s", i, shared.KindOf(errs[i]))
		}
		if !errors.Is(errs[i], boom) {
			t.Fatalf("caller %d lost the underlying error: %v", i, errs[i])
		}
	}
}

func TestBatchedCallOnNonBatchableMethodDegrades(t *testing.T) {
	r := newEchoRunner(t)
	out, err := r.BatchedCall(context.Background(), "echo", "single")
	if err != nil {
		t.Fatalf("degraded call failed: %v", err)
	}
	if out != "single" {
		t.Fatalf("unexpected result %v", out)
	}
}

func TestMethodOptionsBoundAtConstruction(t *testing.T) {
	r, err := New(Config{
		Name:    "opt_runner",
		Options: map[string]map[string]any{"scale": {"coefficient": 3}},
	}, Method{
		Name: "scale",
		Fn: func(_ context.Context, args []any, opts map[string]any) (any, error) {
			k := opts["coefficient"].(int)
			return args[0].(int) * k, nil
		},
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	defer r.Shutdown()

	out, err := r.Call(context.Background(), "scale", 5)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if out != 15 {
		t.Fatalf("expected bound coefficient applied, got %v", out)
	}
}
