package relay

import (
	"context"
	"net"
	"time"

	"chainput/pkg/forward"
	"chainput/pkg/shared"
	"chainput/pkg/storage"
	"chainput/pkg/transport"
	"chainput/pkg/types"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configures a Receiver.
type Options struct {
	Port          int
	AcceptTimeout time.Duration
	DestPath      string
	ChunkSize     int
	QueueDepth    int
}

// Receiver accepts the single inbound stream of a relay or terminal node and
// tees it to disk and to the forwarder.
type Receiver struct {
	transport transport.Transport
	opts      Options
	logger    *zap.Logger

	ln transport.Listener
}

// Result describes one reception.
type Result struct {
	Received   int64
	Persisted  int64
	PersistErr error
	// ReceiveErr is set when the inbound stream broke before a clean end.
	ReceiveErr error
	Forward    *forward.Result
}

// NewReceiver builds a Receiver. Nothing is bound until Listen or Receive.
func NewReceiver(t transport.Transport, opts Options, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{
		transport: t,
		opts:      opts,
		logger:    logger,
	}
}

// Listen binds the reception port. Receive calls it when it has not been
// called yet.
func (r *Receiver) Listen() error {
	if r.ln != nil {
		return nil
	}
	ln, err := r.transport.Listen(r.opts.Port)
	if err != nil {
		return &types.ReceptionError{Port: r.opts.Port, Err: err}
	}
	r.ln = ln
	r.logger.Info("Listening for inbound stream",
		zap.String("addr", ln.Addr().String()),
		zap.Duration("accept_timeout", r.opts.AcceptTimeout))
	return nil
}

// Addr returns the bound reception address, or nil before Listen.
func (r *Receiver) Addr() net.Addr {
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// Close releases the listener if Receive never ran.
func (r *Receiver) Close() error {
	if r.ln == nil {
		return nil
	}
	err := r.ln.Close()
	r.ln = nil
	return err
}

// Receive accepts one stream within the accept timeout, then persists it
// and forwards it concurrently. Only bind and accept failures are returned
// as errors; everything after the accept is reported in the Result.
func (r *Receiver) Receive(ctx context.Context, fwd *forward.Forwarder, state *types.RunState) (*Result, error) {
	if err := r.Listen(); err != nil {
		return nil, err
	}
	ln := r.ln
	defer r.Close()

	acceptCtx, cancel := context.WithTimeout(ctx, r.opts.AcceptTimeout)
	in, err := ln.Accept(acceptCtx)
	cancel()
	if err != nil {
		r.logger.Error("No inbound stream accepted",
			zap.Int("port", r.opts.Port),
			zap.Error(err))
		return nil, &types.ReceptionError{Port: r.opts.Port, Err: err}
	}
	defer in.Close()
	r.logger.Info("Inbound stream accepted")

	diskQ := shared.NewQueue(r.opts.QueueDepth)
	fwdQ := shared.NewQueue(r.opts.QueueDepth)
	res := &Result{}

	var g errgroup.Group
	g.Go(func() error {
		n, err := shared.Split(in, r.opts.ChunkSize, diskQ, fwdQ)
		res.Received = n
		if err != nil {
			res.ReceiveErr = err
			r.logger.Error("Inbound stream broke",
				zap.Int64("received", n),
				zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		n, err := storage.Persist(diskQ, r.opts.DestPath, r.logger)
		res.Persisted = n
		res.PersistErr = err
		diskQ.Abandon()
		return nil
	})
	g.Go(func() error {
		res.Forward = fwd.Forward(ctx, fwdQ, state)
		fwdQ.Abandon()
		return nil
	})
	g.Wait()

	r.logger.Info("Reception finished",
		zap.Int64("received", res.Received),
		zap.Int64("persisted", res.Persisted),
		zap.String("state", string(res.Forward.State)))
	return res, nil
}
