package runner

import (
	"context"
	"io"
	"sync"

	"modelgate/internal/shared"
)

// Stream is a live, ordered, finite lazy sequence of chunks backed by a
// streaming method. It is not restartable once consumed.
type Stream struct {
	ch     chan streamChunk
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

type streamChunk struct {
	val any
	err error
}

// StreamCall starts the method's streaming entry point. Consuming the stream
// advances the underlying computation; Close releases its resources without
// waiting for natural completion.
func (r *Runner) StreamCall(ctx context.Context, method string, args ...any) (*Stream, error) {
	m, err := r.method(method)
	if err != nil {
		return nil, err
	}
	if m.StreamFn == nil {
		return nil, shared.NewContractError(shared.KindRunnerCall,
			"runner %s method %q is not streamable", r.name, method)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ch:     make(chan streamChunk, shared.DefaultStreamBuffer),
		cancel: cancel,
	}

	go func() {
		defer close(s.ch)
		emit := func(chunk any) error {
			select {
			case s.ch <- streamChunk{val: chunk}:
				return nil
			case <-sctx.Done():
				return sctx.Err()
			}
		}
		err := m.StreamFn(sctx, args, r.opts(method), emit)
		if err == nil || sctx.Err() != nil {
			return
		}
		select {
		case s.ch <- streamChunk{err: shared.WrapContractError(shared.KindRunnerCall, err,
			"runner %s method %s stream failed", r.name, method)}:
		case <-sctx.Done():
		}
	}()

	return s, nil
}

// Recv returns the next chunk in order. io.EOF marks a clean end of stream;
// any other error marks an abnormal termination.
func (s *Stream) Recv() (any, error) {
	if s.isClosed() {
		return nil, shared.NewContractError(shared.KindStreamAborted, "stream consumer closed the stream")
	}
	chunk, ok := <-s.ch
	if !ok {
		// The channel also closes when Close cancels the producer while a
		// Recv is blocked; that end is an abort, not a clean EOF.
		if s.isClosed() {
			return nil, shared.NewContractError(shared.KindStreamAborted, "stream consumer closed the stream")
		}
		return nil, io.EOF
	}
	if chunk.err != nil {
		return nil, chunk.err
	}
	return chunk.val, nil
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close cancels the producer. It is the early-abandonment path: underlying
// resources are released and no further chunk is ever yielded.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}
