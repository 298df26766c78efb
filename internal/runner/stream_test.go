package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"modelgate/internal/shared"
)

func newStreamRunner(t *testing.T, released *atomic.Bool, total, failAfter int) *Runner {
	t.Helper()
	r, err := New(Config{Name: "stream_runner", Resources: []string{"cpu"}, MultiThreaded: true}, Method{
		Name: "count",
		Fn: func(_ context.Context, args []any, _ map[string]any) (any, error) {
			return args[0], nil
		},
		StreamFn: func(ctx context.Context, args []any, _ map[string]any, emit func(any) error) error {
			defer func() {
				if released != nil {
					released.Store(true)
				}
			}()
			text := args[0].(string)
			for i := 0; i < total; i++ {
				if failAfter >= 0 && i == failAfter {
					return errors.New("backing unit fell over")
				}
				if err := emit(fmt.Sprintf("%s %d", text, i)); err != nil {
					return err
				}
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	t.Cleanup(r.Shutdown)
	return r
}

func TestStreamOrderedChunksAndCleanEnd(t *testing.T) {
	r := newStreamRunner(t, nil, 10, -1)
	s, err := r.StreamCall(context.Background(), "count", "ping")
	if err != nil {
		t.Fatalf("stream call failed: %v", err)
	}
	defer s.Close()

	for i := 0; i < 10; i++ {
		chunk, err := s.Recv()
		if err != nil {
			t.Fatalf("recv %d failed: %v", i, err)
		}
		want := fmt.Sprintf("ping %d", i)
		if chunk != want {
			t.Fatalf("chunk %d out of order: got %v, want %v", i, chunk, want)
		}
	}
	if _, err := s.Recv(); err != io.EOF {
		t.Fatalf("expected clean EOF, got %v", err)
	}
}

func TestStreamAbandonmentReleasesProducer(t *testing.T) {
	var released atomic.Bool
	// Emit far more chunks than the consumer takes plus the channel buffer,
	// so the producer is genuinely blocked on emit and can only finish
	// through cancellation.
	r := newStreamRunner(t, &released, 30, -1)
	s, err := r.StreamCall(context.Background(), "count", "x")
	if err != nil {
		t.Fatalf("stream call failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.Recv(); err != nil {
			t.Fatalf("recv %d failed: %v", i, err)
		}
	}
	s.Close()

	if _, err := s.Recv(); err == nil || shared.KindOf(err) != shared.KindStreamAborted {
		t.Fatalf("recv after close must report an aborted stream, got %v", err)
	}

	deadline := time.After(2 * time.Second)
	for !released.Load() {
		select {
		case <-deadline:
			t.Fatal("producer not released after abandonment")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestStreamMidFailureDistinctFromCleanEnd(t *testing.T) {
	r := newStreamRunner(t, nil, 10, 4)
	s, err := r.StreamCall(context.Background(), "count", "x")
	if err != nil {
		t.Fatalf("stream call failed: %v", err)
	}
	defer s.Close()

	seen := 0
	for {
		_, err := s.Recv()
		if err == nil {
			seen++
			continue
		}
		if err == io.EOF {
			t.Fatal("mid-stream failure must not look like a clean end")
		}
		if shared.KindOf(err) != shared.KindRunnerCall {
			t.Fatalf("expected runner_call kind, got %s", shared.KindOf(err))
		}
		break
	}
	if seen != 4 {
		t.Fatalf("expected 4 chunks before the failure, got %d", seen)
	}
}

func TestRecvBlockedDuringCloseReportsAbort(t *testing.T) {
	r, err := New(Config{Name: "idle_runner"}, Method{
		Name: "wait",
		Fn: func(_ context.Context, args []any, _ map[string]any) (any, error) {
			return args[0], nil
		},
		StreamFn: func(ctx context.Context, _ []any, _ map[string]any, _ func(any) error) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	t.Cleanup(r.Shutdown)

	s, err := r.StreamCall(context.Background(), "wait", "x")
	if err != nil {
		t.Fatalf("stream call failed: %v", err)
	}

	got := make(chan error, 1)
	go func() {
		_, err := s.Recv()
		got <- err
	}()
	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-got:
		if err == io.EOF {
			t.Fatal("a receive unblocked by Close must not look like a clean end")
		}
		if shared.KindOf(err) != shared.KindStreamAborted {
			t.Fatalf("expected stream_aborted kind, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive still blocked after Close")
	}
}

func TestStreamCallOnNonStreamableMethod(t *testing.T) {
	r := newEchoRunner(t)
	if _, err := r.StreamCall(context.Background(), "echo", "x"); err == nil {
		t.Fatal("expected non-streamable method to fail")
	}
}
