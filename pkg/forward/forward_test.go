package forward

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"chainput/pkg/types"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errRefused = errors.New("connection refused")

type sink struct {
	bytes.Buffer
	closed  bool
	aborted bool
}

func (s *sink) Close() error {
	s.closed = true
	return nil
}

func (s *sink) Abort() error {
	s.aborted = true
	return nil
}

// fakeDialer refuses every host not in up and records each dial.
type fakeDialer struct {
	mu    sync.Mutex
	up    map[string]bool
	dials []string
	sinks map[string]*sink
}

func newFakeDialer(up ...string) *fakeDialer {
	d := &fakeDialer{
		up:    make(map[string]bool),
		sinks: make(map[string]*sink),
	}
	for _, h := range up {
		d.up[h] = true
	}
	return d
}

func (d *fakeDialer) Dial(ctx context.Context, addr string) (io.WriteCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, addr)
	if !d.up[addr] {
		return nil, errRefused
	}
	s := &sink{}
	d.sinks[addr] = s
	return s, nil
}

func newForwarder(t *testing.T, d Dialer, hosts []string, hostTries, chainTries int) *Forwarder {
	return New(d, Options{
		Hosts:          hosts,
		HostTries:      hostTries,
		ChainTries:     chainTries,
		ConnectTimeout: time.Second,
		Delay:          time.Millisecond,
	}, zaptest.NewLogger(t))
}

// forwardWithin runs Forward under a deadline so a retry loop that never
// ends fails the test instead of hanging it.
func forwardWithin(t *testing.T, f *Forwarder, r io.Reader, state *types.RunState) *Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan *Result, 1)
	go func() {
		done <- f.Forward(ctx, r, state)
	}()
	select {
	case res := <-done:
		require.NoError(t, ctx.Err(), "forward ran into the test deadline")
		return res
	case <-time.After(15 * time.Second):
		t.Fatal("forward did not return")
		return nil
	}
}

func TestRetryPolicyAllowsHostTriesMinusOneRetries(t *testing.T) {
	for hostTries := 1; hostTries <= 4; hostTries++ {
		b := retryPolicy(hostTries, 0)
		b.Reset()
		retries := 0
		for b.NextBackOff() != backoff.Stop {
			retries++
			require.Less(t, retries, 100, "retry policy is unbounded for hostTries=%d", hostTries)
		}
		assert.Equal(t, hostTries-1, retries, "hostTries=%d", hostTries)
	}
}

func TestForwardSingleTryDeadHost(t *testing.T) {
	d := newFakeDialer()
	f := New(d, Options{
		Hosts:          []string{"a", "b"},
		HostTries:      1,
		ChainTries:     2,
		ConnectTimeout: time.Second,
	}, zaptest.NewLogger(t))

	src := bytes.NewReader(make([]byte, 2048))
	res := forwardWithin(t, f, src, f.NewRunState(0))

	assert.Equal(t, types.StateAbandoned, res.State)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []string{"a", "b"}, d.dials)
	assert.Equal(t, int64(2048), res.Drained)
}

func TestForwardSkipsDeadHost(t *testing.T) {
	hosts := []string{"h1", "h2", "h3"}
	d := newFakeDialer("h2", "h3")
	f := newForwarder(t, d, hosts, 2, 3)

	state := types.NewRunState(0, 3)
	res := forwardWithin(t, f, bytes.NewReader([]byte("payload")), state)

	assert.Equal(t, types.StateStreaming, res.State)
	assert.Equal(t, "h2", res.Target)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 1, res.Advanced)
	assert.Equal(t, []string{"h1", "h1", "h2"}, d.dials)
	assert.Equal(t, 1, state.Remaining)
	assert.Equal(t, 1, state.Current)
	assert.Nil(t, res.Exhausted)

	require.Contains(t, d.sinks, "h2")
	assert.Equal(t, "payload", d.sinks["h2"].String())
	assert.True(t, d.sinks["h2"].closed)
}

func TestForwardAttemptBound(t *testing.T) {
	tests := []struct {
		name       string
		hosts      []string
		index      int
		hostTries  int
		chainTries int
		attempts   int
		dials      []string
	}{
		{
			name:       "chain budget limits hosts",
			hosts:      []string{"a", "b", "c", "d"},
			hostTries:  2,
			chainTries: 2,
			attempts:   4,
			dials:      []string{"a", "a", "b", "b"},
		},
		{
			name:       "list end limits hosts",
			hosts:      []string{"a", "b", "c"},
			index:      1,
			hostTries:  3,
			chainTries: 5,
			attempts:   6,
			dials:      []string{"b", "b", "b", "c", "c", "c"},
		},
		{
			name:       "single try per host",
			hosts:      []string{"a", "b", "c"},
			hostTries:  1,
			chainTries: 3,
			attempts:   3,
			dials:      []string{"a", "b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDialer()
			f := newForwarder(t, d, tt.hosts, tt.hostTries, tt.chainTries)

			src := bytes.NewReader(make([]byte, 1000))
			res := forwardWithin(t, f, src, types.NewRunState(tt.index, tt.chainTries))

			assert.Equal(t, types.StateAbandoned, res.State)
			assert.Equal(t, tt.attempts, res.Attempts)
			assert.LessOrEqual(t, res.Attempts, tt.hostTries*tt.chainTries)
			assert.Equal(t, tt.dials, d.dials)
			assert.Equal(t, int64(1000), res.Drained)
			assert.Zero(t, src.Len())
			require.NotNil(t, res.Exhausted)
			assert.ErrorIs(t, res.Exhausted, errRefused)
		})
	}
}

func TestForwardTargetsAscendNoRevisit(t *testing.T) {
	hosts := []string{"a", "b", "c", "d", "e"}
	d := newFakeDialer("e")
	f := newForwarder(t, d, hosts, 2, 10)

	res := forwardWithin(t, f, bytes.NewReader(nil), types.NewRunState(2, 10))
	assert.Equal(t, "e", res.Target)

	order := map[string]int{"a": 0, "b": 1, "c": 2, "d": 3, "e": 4}
	prev := -1
	for _, h := range d.dials {
		assert.GreaterOrEqual(t, order[h], prev, "target index moved backwards")
		assert.GreaterOrEqual(t, order[h], 2, "host below own index dialled")
		prev = order[h]
	}
	assert.Equal(t, []string{"c", "c", "d", "d", "e"}, d.dials)
}

func TestForwardFirstAttemptHasNoPause(t *testing.T) {
	d := newFakeDialer("a")
	f := New(d, Options{
		Hosts:          []string{"a"},
		HostTries:      5,
		ChainTries:     1,
		ConnectTimeout: time.Second,
		Delay:          time.Hour,
	}, zaptest.NewLogger(t))

	done := make(chan *Result, 1)
	go func() {
		done <- f.Forward(context.Background(), bytes.NewReader([]byte("x")), types.NewRunState(0, 1))
	}()

	select {
	case res := <-done:
		assert.Equal(t, types.StateStreaming, res.State)
		assert.Equal(t, 1, res.Attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("successful first attempt waited for the retry delay")
	}
}

func TestForwardDelayBetweenAttempts(t *testing.T) {
	d := newFakeDialer()
	f := New(d, Options{
		Hosts:          []string{"a"},
		HostTries:      3,
		ChainTries:     1,
		ConnectTimeout: time.Second,
		Delay:          30 * time.Millisecond,
	}, zaptest.NewLogger(t))

	start := time.Now()
	res := forwardWithin(t, f, bytes.NewReader(nil), types.NewRunState(0, 1))
	elapsed := time.Since(start)

	assert.Equal(t, 3, res.Attempts)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestForwardTerminalIndexAbandons(t *testing.T) {
	hosts := []string{"a", "b"}
	d := newFakeDialer("a", "b")
	f := newForwarder(t, d, hosts, 2, 3)

	src := bytes.NewReader(make([]byte, 4096))
	res := forwardWithin(t, f, src, types.NewRunState(2, 3))

	assert.Equal(t, types.StateAbandoned, res.State)
	assert.Zero(t, res.Attempts)
	assert.Empty(t, d.dials)
	assert.Equal(t, int64(4096), res.Drained)
	require.NotNil(t, res.Exhausted)
	assert.Equal(t, 2, res.Exhausted.Index)
	assert.Equal(t, 3, res.Exhausted.Remaining)
}

func TestForwardByteIdentical(t *testing.T) {
	payload := make([]byte, 2<<20+31)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	d := newFakeDialer("a")
	f := New(d, Options{
		Hosts:          []string{"a"},
		HostTries:      1,
		ChainTries:     1,
		ConnectTimeout: time.Second,
		BufferSize:     4096,
	}, zaptest.NewLogger(t))

	res := forwardWithin(t, f, iotest.HalfReader(bytes.NewReader(payload)), types.NewRunState(0, 1))
	require.NoError(t, res.StreamErr)
	assert.Equal(t, int64(len(payload)), res.Forwarded)
	assert.True(t, bytes.Equal(payload, d.sinks["a"].Bytes()))
}

func TestForwardAbortsOnBrokenInput(t *testing.T) {
	cause := errors.New("upstream reset")
	src := io.MultiReader(bytes.NewReader([]byte("partial")), iotest.ErrReader(cause))

	d := newFakeDialer("a")
	f := newForwarder(t, d, []string{"a"}, 1, 1)

	res := forwardWithin(t, f, src, types.NewRunState(0, 1))
	assert.ErrorIs(t, res.StreamErr, cause)
	assert.Equal(t, types.StateStreaming, res.State)

	s := d.sinks["a"]
	assert.True(t, s.aborted)
	assert.False(t, s.closed)
	assert.Equal(t, "partial", s.String())
}

func TestForwardAddrMapping(t *testing.T) {
	d := newFakeDialer("node-2:6000")
	f := New(d, Options{
		Hosts:          []string{"node-1", "node-2"},
		HostTries:      1,
		ChainTries:     2,
		ConnectTimeout: time.Second,
		Addr:           func(h string) string { return h + ":6000" },
	}, zaptest.NewLogger(t))

	res := forwardWithin(t, f, bytes.NewReader(nil), types.NewRunState(0, 2))
	assert.Equal(t, "node-2", res.Target)
	assert.Equal(t, []string{"node-1:6000", "node-2:6000"}, d.dials)
}

func TestForwardCancelledStopsRetrying(t *testing.T) {
	d := newFakeDialer()
	f := New(d, Options{
		Hosts:          []string{"a", "b"},
		HostTries:      100,
		ChainTries:     2,
		ConnectTimeout: time.Second,
		Delay:          time.Hour,
	}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan *Result, 1)
	go func() {
		done <- f.Forward(ctx, bytes.NewReader(nil), types.NewRunState(0, 2))
	}()

	select {
	case res := <-done:
		assert.Equal(t, types.StateAbandoned, res.State)
		assert.Equal(t, 1, res.Attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not interrupt the retry pause")
	}
}

func TestDrain(t *testing.T) {
	n, err := Drain(bytes.NewReader(make([]byte, 12345)))
	require.NoError(t, err)
	assert.Equal(t, int64(12345), n)
}
