package table

import (
	"context"
	stdio "io"
	"log/slog"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"golang.org/x/sync/errgroup"

	"github.com/BrobridgeOrg/go-delta/internal/metrics"
)

// executor runs read tasks on a bounded worker pool.
type executor struct {
	decoder     *decoder
	concurrency int
	// buffer is the number of decoded batches a task may hold undelivered.
	buffer    int
	unordered bool
	logger    *slog.Logger
	metrics   *metrics.ScanMetrics
}

type work struct {
	task ReadTask
	out  chan arrow.Record
}

// start launches the pool and returns the iterator that pulls from it.
func (e *executor) start(ctx context.Context, tasks []ReadTask) *BatchIterator {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	it := &BatchIterator{
		ctx:       gctx,
		cancel:    cancel,
		g:         g,
		unordered: e.unordered,
	}

	queue := make(chan work)
	if e.unordered {
		it.results = make(chan arrow.Record, e.concurrency*e.buffer)
	} else {
		it.order = make(chan chan arrow.Record, e.concurrency)
	}

	g.Go(func() error {
		defer close(queue)
		if it.order != nil {
			defer close(it.order)
		}
		for _, task := range tasks {
			out := it.results
			if out == nil {
				out = make(chan arrow.Record, e.buffer)
				select {
				case it.order <- out:
				case <-gctx.Done():
					return nil
				}
			}
			select {
			case queue <- work{task: task, out: out}:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	var workers sync.WaitGroup
	for range min(e.concurrency, max(len(tasks), 1)) {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for w := range queue {
				if gctx.Err() != nil {
					return nil
				}
				if err := e.run(gctx, w); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if e.unordered {
		go func() {
			workers.Wait()
			close(it.results)
		}()
	}
	return it
}

// run decodes one task into its output channel. In ordered mode the channel
// is closed only when the task completed; a failed task leaves it open and
// the iterator learns of the failure through the group context.
func (e *executor) run(ctx context.Context, w work) error {
	started := time.Now()
	err := e.decoder.decode(ctx, w.task, func(rec arrow.Record) error {
		select {
		case w.out <- rec:
			return nil
		case <-ctx.Done():
			rec.Release()
			return ctx.Err()
		}
	})
	e.metrics.TaskDone(time.Since(started))
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Debug("read task failed", "task", w.task.Index, "path", w.task.Path, "error", err)
		}
		return &TaskError{Index: w.task.Index, Path: w.task.Path, Cause: err}
	}
	if !e.unordered {
		close(w.out)
	}
	return nil
}

// BatchIterator is a pull-based sequence of record batches. It is not safe
// for concurrent use.
type BatchIterator struct {
	ctx       context.Context
	cancel    context.CancelFunc
	g         *errgroup.Group
	unordered bool

	// order carries the per-task channels in plan order.
	order   chan chan arrow.Record
	current chan arrow.Record
	// results is shared by all tasks in unordered mode.
	results chan arrow.Record

	closed bool
	done   bool
	err    error
}

// Next returns the next batch, which the caller must release, or io.EOF
// when the scan is exhausted. A task failure is returned as a *TaskError
// and ends the sequence. Cancelling ctx interrupts the wait without closing
// the iterator.
func (it *BatchIterator) Next(ctx context.Context) (arrow.Record, error) {
	if it.closed {
		return nil, ErrIteratorClosed
	}
	if it.done {
		if it.err != nil {
			return nil, it.err
		}
		return nil, stdio.EOF
	}

	if it.unordered {
		select {
		case rec, ok := <-it.results:
			if !ok {
				return nil, it.finish()
			}
			return rec, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for {
		if it.current == nil {
			select {
			case ch, ok := <-it.order:
				if !ok {
					return nil, it.finish()
				}
				it.current = ch
			case <-it.ctx.Done():
				return nil, it.finish()
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		select {
		case rec, ok := <-it.current:
			if !ok {
				it.current = nil
				continue
			}
			return rec, nil
		case <-it.ctx.Done():
			return nil, it.finish()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// finish ends the sequence with the first task error, or io.EOF.
func (it *BatchIterator) finish() error {
	// Wait cancels the group context, so look at it first.
	cancelled := it.ctx.Err()
	err := it.g.Wait()
	if err == nil {
		err = cancelled
	}
	it.done = true
	it.err = err
	it.cancel()
	if err == nil {
		return stdio.EOF
	}
	return err
}

// Close stops the scan. Workers are cancelled and waited for, and batches
// decoded but not yet delivered are released.
func (it *BatchIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true

	it.cancel()
	_ = it.g.Wait()

	if it.unordered {
		for rec := range it.results {
			rec.Release()
		}
		return nil
	}
	if it.current != nil {
		drain(it.current)
	}
	for ch := range it.order {
		drain(ch)
	}
	return nil
}

// drain releases whatever is buffered in ch without blocking.
func drain(ch chan arrow.Record) {
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			rec.Release()
		default:
			return
		}
	}
}
