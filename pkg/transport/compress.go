package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"go.uber.org/multierr"
)

// Codec names the compression applied to every hop stream. All nodes of a
// chain must agree on it; the bytes persisted and relayed stay uncompressed.
type Codec string

const (
	CodecNone Codec = "none"
	CodecLZ4  Codec = "lz4"
	CodecZstd Codec = "zstd"
)

// ParseCodec parses a codec from its name. The empty name means none.
func ParseCodec(name string) (Codec, error) {
	switch Codec(name) {
	case "", CodecNone:
		return CodecNone, nil
	case CodecLZ4:
		return CodecLZ4, nil
	case CodecZstd:
		return CodecZstd, nil
	default:
		return "", fmt.Errorf("unknown compression codec: %q", name)
	}
}

// Compressed wraps t so streams are compressed on Dial and decompressed on
// Accept. CodecNone returns t unchanged.
func Compressed(t Transport, name string) (Transport, error) {
	codec, err := ParseCodec(name)
	if err != nil {
		return nil, err
	}
	if codec == CodecNone {
		return t, nil
	}
	return &compressedTransport{inner: t, codec: codec}, nil
}

type compressedTransport struct {
	inner Transport
	codec Codec
}

func (c *compressedTransport) Dial(ctx context.Context, addr string) (io.WriteCloser, error) {
	w, err := c.inner.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	var enc io.WriteCloser
	switch c.codec {
	case CodecLZ4:
		enc = lz4.NewWriter(w)
	case CodecZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		enc = zw
	}
	return &compressWriter{enc: enc, dst: w}, nil
}

func (c *compressedTransport) Listen(port int) (Listener, error) {
	ln, err := c.inner.Listen(port)
	if err != nil {
		return nil, err
	}
	return &decompressListener{Listener: ln, codec: c.codec}, nil
}

type compressWriter struct {
	enc io.WriteCloser
	dst io.WriteCloser
}

func (w *compressWriter) Write(p []byte) (int, error) {
	return w.enc.Write(p)
}

// Close flushes the encoder, then closes the hop stream.
func (w *compressWriter) Close() error {
	return multierr.Append(w.enc.Close(), w.dst.Close())
}

// Abort aborts the hop stream first so the encoder's final flush cannot
// reach the receiver, then releases the encoder.
func (w *compressWriter) Abort() error {
	err := Abort(w.dst)
	w.enc.Close()
	return err
}

type decompressListener struct {
	Listener
	codec Codec
}

func (l *decompressListener) Accept(ctx context.Context) (io.ReadCloser, error) {
	r, err := l.Listener.Accept(ctx)
	if err != nil {
		return nil, err
	}

	switch l.codec {
	case CodecLZ4:
		return &decompressReader{Reader: lz4.NewReader(r), src: r}, nil
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		return &decompressReader{Reader: dec, src: r, release: dec.Close}, nil
	default:
		return r, nil
	}
}

type decompressReader struct {
	io.Reader
	src     io.Closer
	release func()
}

func (r *decompressReader) Close() error {
	if r.release != nil {
		r.release()
	}
	return r.src.Close()
}
