package forward

import "io"

// Drain consumes and discards the rest of r so the writer feeding it is
// never left blocked once the chain is abandoned.
func Drain(r io.Reader) (int64, error) {
	return io.Copy(io.Discard, r)
}
