package forward

import (
	"context"
	"errors"
	"io"
	"time"

	"chainput/pkg/transport"
	"chainput/pkg/types"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

const defaultBufferSize = 256 * 1024

// Dialer opens the outbound stream of one hop.
type Dialer interface {
	Dial(ctx context.Context, addr string) (io.WriteCloser, error)
}

// Options configures a Forwarder.
type Options struct {
	Hosts          types.HostChain
	HostTries      int
	ChainTries     int
	ConnectTimeout time.Duration
	Delay          time.Duration
	BufferSize     int

	// Addr maps a host entry to its dial address. Defaults to identity.
	Addr func(host string) string
}

// Forwarder runs the two-level retry that hands a stream to the next
// reachable host of the chain.
type Forwarder struct {
	dialer Dialer
	opts   Options
	logger *zap.Logger
}

// Result is what one Forward call did.
type Result struct {
	State     types.State
	Target    string
	Attempts  int
	Advanced  int
	Forwarded int64
	Drained   int64

	// StreamErr is set when the hop broke after streaming began.
	StreamErr error
	// Exhausted is set when the chain was abandoned.
	Exhausted *types.ChainExhaustedError
}

// New builds a Forwarder, filling unset options with their defaults.
func New(dialer Dialer, opts Options, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HostTries < 1 {
		opts.HostTries = 1
	}
	if opts.ChainTries < 1 {
		opts.ChainTries = 1
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Addr == nil {
		opts.Addr = func(host string) string { return host }
	}
	return &Forwarder{
		dialer: dialer,
		opts:   opts,
		logger: logger,
	}
}

// NewRunState starts a run at chain index with the configured chain budget.
func (f *Forwarder) NewRunState(index int) *types.RunState {
	return types.NewRunState(index, f.opts.ChainTries)
}

// Forward streams r to the first host, from state.Current upwards, that
// accepts a connection within its attempt budget. When no host does, the
// chain is abandoned and r is drained. Forward never fails: per-attempt
// errors are logged and absorbed.
func (f *Forwarder) Forward(ctx context.Context, r io.Reader, state *types.RunState) *Result {
	startIndex := state.Current
	advanced := 0
	var w io.WriteCloser
	var last error

	for !state.Success && state.Remaining > 0 {
		host, ok := f.opts.Hosts.At(state.Current)
		if !ok {
			break
		}
		state.Remaining--
		state.State = types.StateAttemptingHost
		state.HostsTried++

		w, last = f.attemptHost(ctx, host, state)
		if last == nil {
			state.Success = true
			state.Target = host
			break
		}
		if ctx.Err() != nil {
			break
		}

		state.Advance()
		advanced++
		f.logger.Warn("Host unreachable, advancing chain",
			zap.String("host", host),
			zap.Int("next_index", state.Current),
			zap.Int("chain_tries_left", state.Remaining))
	}

	res := &Result{
		Attempts: state.Attempts,
		Advanced: advanced,
	}

	if state.Success {
		state.State = types.StateStreaming
		res.State = types.StateStreaming
		res.Target = state.Target
		f.logger.Info("Streaming to next host",
			zap.String("host", state.Target),
			zap.Int("index", state.Current))

		n, err := f.stream(r, w)
		res.Forwarded = n
		if err != nil {
			res.StreamErr = err
			f.logger.Error("Stream to next host broke",
				zap.String("host", state.Target),
				zap.Int64("forwarded", n),
				zap.Error(err))
			res.Drained = f.drain(ctx, r)
			return res
		}
		f.logger.Info("Stream handed to next host",
			zap.String("host", state.Target),
			zap.Int64("bytes", n))
		return res
	}

	state.State = types.StateAbandoned
	res.State = types.StateAbandoned
	res.Exhausted = &types.ChainExhaustedError{
		Index:     state.Current,
		Remaining: state.Remaining,
		Last:      last,
	}
	f.logger.Info("No reachable host left, abandoning chain",
		zap.Int("start_index", startIndex),
		zap.Int("stop_index", state.Current),
		zap.Int("attempts", state.Attempts),
		zap.Int("chain_tries_left", state.Remaining))
	res.Drained = f.drain(ctx, r)
	return res
}

// attemptHost dials host up to HostTries times, pausing Delay between
// failed attempts.
func (f *Forwarder) attemptHost(ctx context.Context, host string, state *types.RunState) (io.WriteCloser, error) {
	addr := f.opts.Addr(host)
	attempt := 0
	var conn io.WriteCloser

	op := func() error {
		attempt++
		state.Attempts++
		f.logger.Info("Connecting to host",
			zap.String("host", host),
			zap.String("addr", addr),
			zap.Int("attempt", attempt),
			zap.Int("host_tries", f.opts.HostTries))

		dialCtx, cancel := context.WithTimeout(ctx, f.opts.ConnectTimeout)
		defer cancel()
		w, err := f.dialer.Dial(dialCtx, addr)
		if err != nil {
			connErr := &types.ConnectionError{Host: host, Attempt: attempt, Err: err}
			f.logger.Warn("Connection attempt failed",
				zap.String("host", host),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return connErr
		}
		conn = w
		f.logger.Info("Connected to host",
			zap.String("host", host),
			zap.Int("attempt", attempt))
		return nil
	}

	b := backoff.WithContext(retryPolicy(f.opts.HostTries, f.opts.Delay), ctx)
	notify := func(err error, wait time.Duration) {
		f.logger.Debug("Waiting before next attempt",
			zap.String("host", host),
			zap.Duration("delay", wait))
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// retryPolicy allows hostTries-1 retries spaced by delay. WithMaxRetries
// treats a limit of 0 as unlimited, so a single try uses StopBackOff.
func retryPolicy(hostTries int, delay time.Duration) backoff.BackOff {
	if hostTries <= 1 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(hostTries-1))
}

// stream copies r to w. A failure on the reading side aborts w so the next
// host never keeps a truncated stream as complete.
func (f *Forwarder) stream(r io.Reader, w io.WriteCloser) (int64, error) {
	src := &readTracker{r: r}
	buf := make([]byte, f.opts.BufferSize)

	n, err := io.CopyBuffer(writerOnly{w}, src, buf)
	if err != nil {
		if src.err != nil {
			transport.Abort(w)
		} else {
			w.Close()
		}
		return n, err
	}
	if err := w.Close(); err != nil {
		return n, err
	}
	return n, nil
}

func (f *Forwarder) drain(ctx context.Context, r io.Reader) int64 {
	if ctx.Err() != nil {
		f.logger.Warn("Run cancelled, leaving input undrained")
		return 0
	}
	n, err := Drain(r)
	if err != nil {
		f.logger.Warn("Input ended with an error while draining",
			zap.Int64("drained", n),
			zap.Error(err))
	} else {
		f.logger.Info("End of reachable chain, input drained",
			zap.Int64("drained", n))
	}
	return n
}

type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}

// writerOnly hides any ReaderFrom so CopyBuffer goes through readTracker.
type writerOnly struct {
	io.Writer
}
