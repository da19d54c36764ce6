package shared

import (
	"io"
)

// Split reads src in chunks of chunkSize bytes and pushes every chunk to
// each queue in order, so all consumers see the same byte sequence.
//
// Consumers are coupled: a stalled consumer holds back the ones after it
// once its queue is full, so at most depth chunks reach them past the stall.
// Abandon on the stalled queue releases the others. All queues are closed on
// return, carrying the read error if src failed.
func Split(src io.Reader, chunkSize int, queues ...*Queue) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}

	var total int64
	for {
		buf := make([]byte, chunkSize)
		n, err := src.Read(buf)
		if n > 0 {
			total += int64(n)
			chunk := buf[:n]
			for _, q := range queues {
				q.Push(chunk)
			}
		}
		if err == io.EOF {
			for _, q := range queues {
				q.Close()
			}
			return total, nil
		}
		if err != nil {
			for _, q := range queues {
				q.CloseWithError(err)
			}
			return total, err
		}
	}
}
