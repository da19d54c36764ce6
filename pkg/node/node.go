package node

import (
	"context"
	"os"
	"time"

	"chainput/pkg/config"
	"chainput/pkg/forward"
	"chainput/pkg/relay"
	"chainput/pkg/transport"
	"chainput/pkg/types"

	"go.uber.org/zap"
)

// Node is one participant of a chain run.
type Node struct {
	params    *config.Params
	transport transport.Transport
	runID     string
	role      types.Role
	logger    *zap.Logger

	recv *relay.Receiver
}

// New builds a node using the transport selected by the tool argument.
func New(params *config.Params, runID string, logger *zap.Logger) (*Node, error) {
	t, err := transport.New(string(params.Transport()), params.Compression)
	if err != nil {
		return nil, &types.ConfigError{Field: "tool", Message: "cannot build transport", Err: err}
	}
	return NewWithTransport(params, t, runID, logger), nil
}

func NewWithTransport(params *config.Params, t transport.Transport, runID string, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	role := types.ResolveRole(params.Index, params.Hosts.Len())
	n := &Node{
		params:    params,
		transport: t,
		runID:     runID,
		role:      role,
		logger:    logger.With(zap.String("role", string(role))),
	}
	if role.Receives() {
		n.recv = relay.NewReceiver(t, relay.Options{
			Port:          params.Port,
			AcceptTimeout: params.AcceptTimeout,
			DestPath:      params.DestPath(),
			ChunkSize:     params.ChunkSize,
			QueueDepth:    params.QueueDepth,
		}, n.logger)
	}
	return n
}

// Listen binds the reception port ahead of Run. It is a no-op for the
// origin, and Run binds on its own when Listen was not called.
func (n *Node) Listen() error {
	if n.recv == nil {
		return nil
	}
	return n.recv.Listen()
}

// Close releases a reception port bound by Listen when Run never ran.
func (n *Node) Close() error {
	if n.recv == nil {
		return nil
	}
	return n.recv.Close()
}

func (n *Node) Role() types.Role {
	return n.role
}

// Run executes the node's part of the chain. Abandoning the chain is a
// normal outcome; only configuration and reception failures are returned.
func (n *Node) Run(ctx context.Context) (*types.Outcome, error) {
	p := n.params
	out := &types.Outcome{
		RunID:   n.runID,
		Role:    n.role,
		Index:   p.Index,
		Started: time.Now(),
	}
	defer func() { out.Finished = time.Now() }()

	if p.Autoremove {
		defer Cleanup(n.logger, p.HostsFile, p.Artifact)
	}

	n.logger.Info("Node starting",
		zap.Int("hosts", p.Hosts.Len()),
		zap.String("transport", string(p.Transport())),
		zap.String("compression", p.Compression),
		zap.Int("host_tries", p.HostTries),
		zap.Int("chain_tries", p.ChainTries),
		zap.Duration("delay", p.Delay))

	fwd := forward.New(n.transport, forward.Options{
		Hosts:          p.Hosts,
		HostTries:      p.HostTries,
		ChainTries:     p.ChainTries,
		ConnectTimeout: p.ConnectTimeout,
		Delay:          p.Delay,
		BufferSize:     p.ChunkSize,
		Addr:           p.HostAddr,
	}, n.logger)
	state := fwd.NewRunState(p.Index)

	var res *forward.Result
	if n.recv != nil {
		rr, err := n.recv.Receive(ctx, fwd, state)
		if err != nil {
			return out, err
		}
		out.Received = rr.Received
		out.Persisted = rr.Persisted
		res = rr.Forward
	} else {
		f, err := os.Open(p.SourceFile)
		if err != nil {
			return out, &types.ConfigError{Field: "source", Message: "cannot open source file", Err: err}
		}
		defer f.Close()

		var size int64
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		n.logger.Info("Initiating chain",
			zap.String("source", p.SourceFile),
			zap.Int64("size", size))
		res = fwd.Forward(ctx, f, state)
	}

	out.State = res.State
	out.Target = res.Target
	out.Attempts = res.Attempts
	out.Advanced = res.Advanced
	out.Forwarded = res.Forwarded
	out.Drained = res.Drained
	out.StreamErr = res.StreamErr

	n.logger.Info("Node finished",
		zap.String("state", string(res.State)),
		zap.String("target", res.Target),
		zap.Int("attempts", res.Attempts),
		zap.Stringer("run", state))
	return out, nil
}
