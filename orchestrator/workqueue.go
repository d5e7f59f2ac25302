package orchestrator

import (
	"context"
	"sync"

	"github.com/twitter/rulecomp/ruleset"
	"github.com/twitter/rulecomp/testmodel"
)

type workKind int

const (
	submitWork workKind = iota
	releaseWork
	settledWork
	allAddedWork
)

type workItem struct {
	kind workKind
	test testmodel.Test
	// plan is what the filter returned for a submitWork item. The test's own
	// state may have lost it to a kill by the time the item is handled.
	plan *ruleset.Plan
}

// workQueue is an unbounded FIFO feeding the submission goroutine. push never
// blocks, so it is safe under the registry lock.
type workQueue struct {
	mu     sync.Mutex
	items  []workItem
	signal chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{signal: make(chan struct{}, 1)}
}

func (q *workQueue) push(item workItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop waits for the next item. It returns false once ctx is done.
func (q *workQueue) pop(ctx context.Context) (workItem, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return workItem{}, false
		case <-q.signal:
		}
	}
}
