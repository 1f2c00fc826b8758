package initd

import (
	"github.com/Workiva/go-datastructures/queue"
	"github.com/pkg/errors"
)

// RequestQueue is a FIFO of validated control requests. It is owned by the
// Loop and is not drained concurrently.
type RequestQueue struct {
	q *queue.Queue
}

// NewRequestQueue creates an empty queue.
func NewRequestQueue() *RequestQueue {
	return &RequestQueue{q: queue.New(8)}
}

// Push appends the request to the tail of the queue.
func (rq *RequestQueue) Push(req ControlRequest) error {
	if err := rq.q.Put(req); err != nil {
		return errors.Wrap(err, "failed to queue request")
	}
	return nil
}

// Pop removes the request at the head of the queue. False is returned if the
// queue is empty.
func (rq *RequestQueue) Pop() (ControlRequest, bool) {
	// Get blocks on an empty queue.
	if rq.q.Empty() {
		return ControlRequest{}, false
	}

	items, err := rq.q.Get(1)
	if err != nil || len(items) == 0 {
		return ControlRequest{}, false
	}

	return items[0].(ControlRequest), true
}

// Len returns the number of queued requests.
func (rq *RequestQueue) Len() int {
	return int(rq.q.Len())
}
