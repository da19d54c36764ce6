package shared

import (
	"io"
	"sync"
)

// Queue is a bounded FIFO of byte chunks between one producer and one
// consumer. The consumer side is an io.Reader.
type Queue struct {
	ch   chan []byte
	gone chan struct{}

	err       error
	closeOnce sync.Once
	goneOnce  sync.Once

	pending []byte
}

// NewQueue creates a queue holding at most depth chunks.
func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = 1
	}
	return &Queue{
		ch:   make(chan []byte, depth),
		gone: make(chan struct{}),
	}
}

// Push enqueues chunk, blocking while the queue is full. It returns false
// without blocking once the consumer has abandoned the queue. The chunk must
// not be modified afterwards.
func (q *Queue) Push(chunk []byte) bool {
	select {
	case <-q.gone:
		return false
	default:
	}
	select {
	case q.ch <- chunk:
		return true
	case <-q.gone:
		return false
	}
}

// CloseWithError ends the stream. Read returns err, or io.EOF when err is
// nil, after the queued chunks are consumed.
func (q *Queue) CloseWithError(err error) {
	q.closeOnce.Do(func() {
		q.err = err
		close(q.ch)
	})
}

// Close ends the stream cleanly.
func (q *Queue) Close() {
	q.CloseWithError(nil)
}

// Abandon tells the producer that nothing will be read any more; further
// pushes are dropped.
func (q *Queue) Abandon() {
	q.goneOnce.Do(func() {
		close(q.gone)
	})
}

func (q *Queue) Read(p []byte) (int, error) {
	if len(q.pending) == 0 {
		chunk, ok := q.next()
		if !ok {
			return 0, q.closeErr()
		}
		q.pending = chunk
	}
	n := copy(p, q.pending)
	q.pending = q.pending[n:]
	return n, nil
}

// WriteTo hands whole chunks to w, avoiding an intermediate copy.
func (q *Queue) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for {
		chunk := q.pending
		q.pending = nil
		if len(chunk) == 0 {
			var ok bool
			if chunk, ok = q.next(); !ok {
				if err := q.closeErr(); err != io.EOF {
					return total, err
				}
				return total, nil
			}
		}
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			q.pending = chunk[n:]
			return total, err
		}
	}
}

func (q *Queue) next() ([]byte, bool) {
	for {
		chunk, ok := <-q.ch
		if !ok {
			return nil, false
		}
		if len(chunk) > 0 {
			return chunk, true
		}
	}
}

func (q *Queue) closeErr() error {
	if q.err != nil {
		return q.err
	}
	return io.EOF
}
