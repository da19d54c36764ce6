package transport

import (
	"context"
	"fmt"
	"io"
	"net"
)

// Transport carries one hop of the chain. The context passed to Dial and
// Accept bounds only connection establishment; the returned stream outlives it.
type Transport interface {
	Dial(ctx context.Context, addr string) (io.WriteCloser, error)
	Listen(port int) (Listener, error)
}

// Listener yields inbound hop streams.
type Listener interface {
	Accept(ctx context.Context) (io.ReadCloser, error)
	Addr() net.Addr
	Close() error
}

const (
	KindTCP  = "tcp"
	KindGRPC = "grpc"
)

// New builds the transport named by kind, wrapped with the hop codec.
func New(kind, codec string) (Transport, error) {
	var t Transport
	switch kind {
	case KindTCP:
		t = &TCP{}
	case KindGRPC:
		t = &GRPC{}
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
	return Compressed(t, codec)
}

// Aborter is implemented by hop streams that can be torn down so the
// receiver sees an error rather than a clean end of stream.
type Aborter interface {
	Abort() error
}

// Abort tears w down, falling back to Close when w cannot abort.
func Abort(w io.WriteCloser) error {
	if a, ok := w.(Aborter); ok {
		return a.Abort()
	}
	return w.Close()
}
