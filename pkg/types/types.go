package types

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleOrigin   Role = "origin"
	RoleRelay    Role = "relay"
	RoleTerminal Role = "terminal"
)

// ResolveRole classifies the node at index within a chain of n listed hosts.
// A terminal node runs the same pipeline as a relay.
func ResolveRole(index, n int) Role {
	switch {
	case index == 0:
		return RoleOrigin
	case index >= n:
		return RoleTerminal
	default:
		return RoleRelay
	}
}

// Receives reports whether the role accepts an inbound stream.
func (r Role) Receives() bool {
	return r != RoleOrigin
}

type State string

const (
	StateAttemptingHost State = "attempting_host"
	StateAdvancing      State = "advancing"
	StateStreaming      State = "streaming"
	StateAbandoned      State = "abandoned"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateStreaming || s == StateAbandoned
}

// HostChain is the ordered list of destination hosts. Position 0 is the
// origin and is not listed, so list entry i is chain position i+1.
type HostChain []string

// Len returns the number of listed hosts.
func (c HostChain) Len() int {
	return len(c)
}

// At returns the host that a node at chain index i forwards to first.
func (c HostChain) At(i int) (string, bool) {
	if i < 0 || i >= len(c) {
		return "", false
	}
	return c[i], true
}

// RunState is the mutable state of one forwarding run. The target index
// only moves forward.
type RunState struct {
	Current   int
	Remaining int
	Success   bool
	State     State

	// Attempts counts every dial, HostsTried every host entered.
	Attempts   int
	HostsTried int
	Target     string
}

// NewRunState starts a run at the node's own chain index.
func NewRunState(index, chainTries int) *RunState {
	return &RunState{
		Current:   index,
		Remaining: chainTries,
	}
}

// Advance moves to the next host after the current one was exhausted.
func (s *RunState) Advance() {
	s.State = StateAdvancing
	s.Current++
}

func (s *RunState) String() string {
	return fmt.Sprintf("state=%s current=%d remaining=%d attempts=%d",
		s.State, s.Current, s.Remaining, s.Attempts)
}

// Outcome summarizes one node's run for logs and the run summary.
type Outcome struct {
	RunID     string
	Role      Role
	Index     int
	State     State
	Target    string
	Attempts  int
	Advanced  int
	Received  int64
	Persisted int64
	Forwarded int64
	Drained   int64
	StreamErr error
	Started   time.Time
	Finished  time.Time
}

// Duration returns the wall time of the run.
func (o *Outcome) Duration() time.Duration {
	if o.Finished.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}
