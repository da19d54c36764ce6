package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"
)

// TCP streams raw, unframed bytes, so either end may be a plain netcat.
type TCP struct {
	// ListenHost restricts the reception address; empty binds all interfaces.
	ListenHost string
	// BufferSize sets the kernel socket buffers when positive.
	BufferSize int
}

func (t *TCP) Dial(ctx context.Context, addr string) (io.WriteCloser, error) {
	d := net.Dialer{Control: socketControl(t.BufferSize)}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpStream{Conn: conn}, nil
}

func (t *TCP) Listen(port int) (Listener, error) {
	ln, err := listenTCP(t.ListenHost, port, t.BufferSize)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln}, nil
}

func listenTCP(host string, port, bufferSize int) (net.Listener, error) {
	lc := net.ListenConfig{Control: socketControl(bufferSize)}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}

type tcpStream struct {
	net.Conn
}

// Close half-closes the write side first so the peer reads a clean EOF.
func (s *tcpStream) Close() error {
	if cw, ok := s.Conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			s.Conn.Close()
			return err
		}
	}
	return s.Conn.Close()
}

// Abort resets the connection so the receiver does not mistake a truncated
// stream for a complete one.
func (s *tcpStream) Abort() error {
	if tc, ok := s.Conn.(*net.TCPConn); ok {
		tc.SetLinger(0)
	}
	return s.Conn.Close()
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept(ctx context.Context) (io.ReadCloser, error) {
	type deadliner interface{ SetDeadline(time.Time) error }
	if dl, ok := l.ln.(deadliner); ok {
		if deadline, ok := ctx.Deadline(); ok {
			dl.SetDeadline(deadline)
		}
		stop := context.AfterFunc(ctx, func() { dl.SetDeadline(time.Now()) })
		defer stop()
	}

	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	return conn, nil
}

func (l *tcpListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}
