package runner

import (
	"context"
	"sync"
	"time"

	"modelgate/internal/metrics"
	"modelgate/internal/shared"
)

// batcher coalesces concurrent single-item calls to one method into bounded
// underlying invocations. The window closes on MaxBatchSize items or when
// the timer fires, whichever comes first.
type batcher struct {
	runner *Runner
	method *Method

	window  time.Duration
	maxSize int

	queue chan batchItem
	done  chan struct{}
	wg    sync.WaitGroup
}

type batchItem struct {
	ctx    context.Context
	item   any
	result chan batchResult
}

type batchResult struct {
	out any
	err error
}

func newBatcher(r *Runner, m *Method, window time.Duration, maxSize, queueSize int) *batcher {
	return &batcher{
		runner:  r,
		method:  m,
		window:  window,
		maxSize: maxSize,
		queue:   make(chan batchItem, queueSize),
		done:    make(chan struct{}),
	}
}

func (b *batcher) start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run()
	}()
}

func (b *batcher) stop() {
	close(b.done)
	b.wg.Wait()
}

func (b *batcher) submit(ctx context.Context, item any) (any, error) {
	resultCh := make(chan batchResult, 1)
	bi := batchItem{ctx: ctx, item: item, result: resultCh}

	select {
	case <-ctx.Done():
		return nil, shared.WrapContractError(shared.KindRunnerCall, ctx.Err(), "batched call canceled")
	case <-b.done:
		return nil, shared.NewContractError(shared.KindRunnerCall, "runner %s is shut down", b.runner.name)
	case b.queue <- bi:
	}

	select {
	case res := <-resultCh:
		return res.out, res.err
	case <-ctx.Done():
		return nil, shared.WrapContractError(shared.KindRunnerCall, ctx.Err(), "batched call canceled")
	case <-b.done:
		return nil, shared.NewContractError(shared.KindRunnerCall, "runner %s is shut down", b.runner.name)
	}
}

func (b *batcher) run() {
	for {
		select {
		case <-b.done:
			return
		case first := <-b.queue:
			b.processBatch(first)
		}
	}
}

func (b *batcher) processBatch(first batchItem) {
	batch := []batchItem{first}
	timer := time.NewTimer(b.window)
	defer timer.Stop()

collect:
	for len(batch) < b.maxSize {
		select {
		case <-b.done:
			b.failAll(batch, shared.NewContractError(shared.KindRunnerCall,
				"runner %s is shut down", b.runner.name))
			return
		case next := <-b.queue:
			batch = append(batch, next)
		case <-timer.C:
			break collect
		}
	}

	items := make([]any, len(batch))
	for i, bi := range batch {
		items[i] = bi.item
	}
	metrics.BatchSize.WithLabelValues(b.runner.name, b.method.Name).Observe(float64(len(batch)))

	outs, err := b.method.BatchFn(context.Background(), items, b.runner.opts(b.method.Name))
	if err != nil {
		b.runner.log.Errorw("batched call failed",
			"runner", b.runner.name,
			"method", b.method.Name,
			"batch_size", len(batch),
			"error", err.Error(),
		)
		b.failAll(batch, shared.WrapContractError(shared.KindRunnerCall, err,
			"runner %s method %s batched call failed", b.runner.name, b.method.Name))
		return
	}
	if len(outs) != len(batch) {
		b.failAll(batch, shared.NewContractError(shared.KindRunnerCall,
			"runner %s method %s returned %d results for %d items",
			b.runner.name, b.method.Name, len(outs), len(batch)))
		return
	}
	for i := range batch {
		batch[i].result <- batchResult{out: outs[i]}
	}
}

// failAll propagates one underlying failure to every waiting caller in the
// batch.
func (b *batcher) failAll(batch []batchItem, err error) {
	for _, bi := range batch {
		bi.result <- batchResult{err: err}
	}
}
