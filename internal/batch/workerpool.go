package batch

import (
	"context"
	"fmt"
	"sync"
)

// Item is one unit of work handed to a bounded worker pool.
type Item interface{}

// Result is the outcome of processing a single item: OK reports success,
// Detail carries an optional human-readable note (either outcome), and
// Error carries the failure message when OK is false — including one
// recovered from a panic, never silently discarded.
type Result struct {
	OK     bool
	Detail string
	Error  string
}

// ProcessFunc executes one item and reports its outcome. It never returns
// a bare error: a failure is reported as Result{OK: false, Error: msg} so
// the message reaches subscribers on the item's progress event.
type ProcessFunc func(ctx context.Context, item Item) Result

// runBounded drains items through a fixed number of worker goroutines,
// checking for cancellation between items, and records each outcome on
// task. It blocks until every item has been processed or the pool was
// cancelled mid-drain.
func runBounded(ctx context.Context, task *Task, items []Item, concurrency int, process ProcessFunc) {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	queue := make(chan Item, len(items))
	for _, it := range items {
		queue <- it
	}
	close(queue)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case item, ok := <-queue:
					if !ok {
						return
					}
					res := func() (res Result) {
						defer func() {
							if r := recover(); r != nil {
								res = Result{OK: false, Error: fmt.Sprint(r)}
							}
						}()
						return process(ctx, item)
					}()
					task.recordResult(item, res)
				}
			}
		}()
	}
	wg.Wait()
}
