package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// MaxMessageSize caps one streamed chunk, well under the 4MB gRPC limit.
	MaxMessageSize = 1024 * 1024

	pushMethod = "/chainput.Relay/Push"
)

// relayServer is the handler side of the chainput.Relay service.
type relayServer interface {
	Push(stream grpc.ServerStream) error
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: "chainput.Relay",
	HandlerType: (*relayServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Push",
			Handler:       pushHandler,
			ClientStreams: true,
		},
	},
	Metadata: "chainput/relay.proto",
}

func pushHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(relayServer).Push(stream)
}

// GRPC carries a hop as a client-streaming RPC of BytesValue chunks.
type GRPC struct {
	ListenHost string
}

func (g *GRPC) Dial(ctx context.Context, addr string) (io.WriteCloser, error) {
	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
		grpc.WithReturnConnectionError(),
	)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := conn.NewStream(streamCtx, &relayServiceDesc.Streams[0], pushMethod)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("failed to open push stream: %w", err)
	}

	return &grpcStream{conn: conn, stream: stream, cancel: cancel}, nil
}

func (g *GRPC) Listen(port int) (Listener, error) {
	ln, err := listenTCP(g.ListenHost, port, 0)
	if err != nil {
		return nil, err
	}

	l := &grpcListener{
		ln:      ln,
		server:  grpc.NewServer(grpc.MaxRecvMsgSize(MaxMessageSize + 1024)),
		streams: make(chan io.ReadCloser),
		closed:  make(chan struct{}),
	}
	l.server.RegisterService(&relayServiceDesc, l)
	go l.server.Serve(ln)

	return l, nil
}

type grpcStream struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
}

func (s *grpcStream) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := len(p)
		if n > MaxMessageSize {
			n = MaxMessageSize
		}
		chunk := make([]byte, n)
		copy(chunk, p[:n])
		if err := s.stream.SendMsg(&wrapperspb.BytesValue{Value: chunk}); err != nil {
			return written, fmt.Errorf("failed to send chunk: %w", err)
		}
		written += n
		p = p[n:]
	}
	return written, nil
}

// Close ends the stream and waits for the receiver's acknowledgement.
func (s *grpcStream) Close() error {
	defer s.conn.Close()
	defer s.cancel()

	if err := s.stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close push stream: %w", err)
	}
	if err := s.stream.RecvMsg(&emptypb.Empty{}); err != nil {
		return fmt.Errorf("push was not acknowledged: %w", err)
	}
	return nil
}

// Abort cancels the push; the receiver sees a Canceled status, not EOF.
func (s *grpcStream) Abort() error {
	s.cancel()
	return s.conn.Close()
}

type grpcListener struct {
	ln      net.Listener
	server  *grpc.Server
	streams chan io.ReadCloser
	closed  chan struct{}
	once    sync.Once
}

// Push hands the inbound stream to Accept as a pipe and copies chunks into
// it until the sender closes.
func (l *grpcListener) Push(stream grpc.ServerStream) error {
	pr, pw := io.Pipe()

	select {
	case l.streams <- pr:
	case <-stream.Context().Done():
		return stream.Context().Err()
	case <-l.closed:
		return status.Error(codes.Unavailable, "receiver is closed")
	}

	for {
		msg := new(wrapperspb.BytesValue)
		err := stream.RecvMsg(msg)
		if err == io.EOF {
			break
		}
		if err != nil {
			pw.CloseWithError(err)
			return err
		}
		if _, err := pw.Write(msg.GetValue()); err != nil {
			return status.Errorf(codes.Aborted, "receiver stopped reading: %v", err)
		}
	}
	pw.Close()

	return stream.SendMsg(&emptypb.Empty{})
}

func (l *grpcListener) Accept(ctx context.Context) (io.ReadCloser, error) {
	select {
	case r := <-l.streams:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *grpcListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close waits for an accepted push to finish before stopping the server.
func (l *grpcListener) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.server.GracefulStop()
	})
	return nil
}
