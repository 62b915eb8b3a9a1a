package queue

import (
	"container/heap"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/roster-client/pkg/transport"
)

// Item is a queued request. After Enqueue it is only touched by the worker.
type Item struct {
	Request        transport.Request
	Priority       int
	RetryCount     int
	MaxRetries     int
	Timeout        time.Duration
	RetryBaseDelay time.Duration
	Headers        http.Header

	seq    uint64
	future *Future
}

// itemHeap orders items by priority (highest first), then by insertion
// sequence (oldest first).
type itemHeap []*Item

var _ heap.Interface = (*itemHeap)(nil)

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Future is the one-shot completion handle returned by Enqueue.
type Future struct {
	done chan struct{}
	once sync.Once
	resp *transport.Response
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed once the request has been resolved or rejected.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the request completes or ctx is done. Giving up on
// the wait does not cancel the request.
func (f *Future) Wait(ctx context.Context) (*transport.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) resolve(resp *transport.Response) {
	f.complete(resp, nil)
}

func (f *Future) reject(err error) {
	f.complete(nil, err)
}

func (f *Future) complete(resp *transport.Response, err error) {
	f.once.Do(func() {
		f.resp = resp
		f.err = err
		close(f.done)
	})
}
