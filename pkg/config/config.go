package config

import (
	"bufio"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chainput/pkg/types"
	"chainput/pkg/utils"
)

// MinArgs is the number of required positional arguments.
const MinArgs = 11

// AutoremoveArg is the optional trailing positional requesting cleanup.
const AutoremoveArg = "autoremove"

type TransportKind string

const (
	TransportTCP  TransportKind = "tcp"
	TransportGRPC TransportKind = "grpc"
)

const (
	DefaultChunkSize  = 256 * 1024
	DefaultQueueDepth = 64
)

// Params is the read-only configuration of one node's run.
type Params struct {
	SourceFile     string
	DestDir        string
	Tool           string
	ConnectTimeout time.Duration
	AcceptTimeout  time.Duration
	Port           int
	HostTries      int
	ChainTries     int
	Delay          time.Duration
	Index          int
	HostsFile      string
	Autoremove     bool

	Hosts types.HostChain

	Compression string
	ChunkSize   int
	QueueDepth  int
	Artifact    string
}

// Options carries the tuning knobs that are not positional.
type Options struct {
	Autoremove  bool
	Compression string
	ChunkSize   string
	QueueDepth  int
	Artifact    string
}

// LoadOptionsFromEnv returns the option defaults, overridden by CHAINPUT_*
// environment variables.
func LoadOptionsFromEnv() Options {
	opts := Options{
		Compression: getEnv("CHAINPUT_COMPRESSION", "none"),
		ChunkSize:   getEnv("CHAINPUT_CHUNK_SIZE", strconv.Itoa(DefaultChunkSize)),
		QueueDepth:  DefaultQueueDepth,
	}
	if v := os.Getenv("CHAINPUT_QUEUE_DEPTH"); v != "" {
		if depth, err := strconv.Atoi(v); err == nil {
			opts.QueueDepth = depth
		}
	}
	return opts
}

// Parse builds Params from the positional arguments and loads the host list.
func Parse(args []string, opts Options) (*Params, error) {
	if len(args) < MinArgs {
		return nil, &types.ConfigError{
			Message: fmt.Sprintf("expected at least %d arguments, got %d", MinArgs, len(args)),
		}
	}
	if len(args) > MinArgs+1 {
		return nil, &types.ConfigError{
			Message: fmt.Sprintf("expected at most %d arguments, got %d", MinArgs+1, len(args)),
		}
	}

	p := &Params{
		SourceFile:  args[0],
		DestDir:     args[1],
		Tool:        args[2],
		HostsFile:   args[10],
		Autoremove:  opts.Autoremove,
		Compression: opts.Compression,
		QueueDepth:  opts.QueueDepth,
		Artifact:    opts.Artifact,
	}
	if len(args) == MinArgs+1 {
		if args[MinArgs] != AutoremoveArg {
			return nil, &types.ConfigError{
				Field:   "autoremove",
				Message: fmt.Sprintf("unexpected trailing argument %q", args[MinArgs]),
			}
		}
		p.Autoremove = true
	}

	var err error
	if p.ConnectTimeout, err = parseSeconds("connect_timeout", args[3], false); err != nil {
		return nil, err
	}
	if p.AcceptTimeout, err = parseSeconds("accept_timeout", args[4], false); err != nil {
		return nil, err
	}
	if p.Port, err = parseInt("port", args[5], 1, 65535); err != nil {
		return nil, err
	}
	if p.HostTries, err = parseInt("host_tries", args[6], 1, math.MaxInt32); err != nil {
		return nil, err
	}
	if p.ChainTries, err = parseInt("chain_tries", args[7], 1, math.MaxInt32); err != nil {
		return nil, err
	}
	if p.Delay, err = parseSeconds("delay", args[8], true); err != nil {
		return nil, err
	}
	if p.Index, err = parseInt("index", args[9], 0, math.MaxInt32); err != nil {
		return nil, err
	}

	if p.SourceFile == "" {
		return nil, &types.ConfigError{Field: "source", Message: "must not be empty"}
	}
	if p.DestDir == "" {
		return nil, &types.ConfigError{Field: "dest_dir", Message: "must not be empty"}
	}

	chunk := opts.ChunkSize
	if chunk == "" {
		chunk = strconv.Itoa(DefaultChunkSize)
	}
	size, err := utils.ParseDataSize(chunk)
	if err != nil || size <= 0 || size > math.MaxInt32 {
		return nil, &types.ConfigError{Field: "chunk_size", Message: fmt.Sprintf("invalid size %q", chunk), Err: err}
	}
	p.ChunkSize = int(size)
	if p.QueueDepth <= 0 {
		return nil, &types.ConfigError{Field: "queue_depth", Message: "must be positive"}
	}
	if p.Compression == "" {
		p.Compression = "none"
	}
	switch p.Compression {
	case "none", "lz4", "zstd":
	default:
		return nil, &types.ConfigError{Field: "compression", Message: fmt.Sprintf("unknown codec %q", p.Compression)}
	}

	hosts, err := LoadHosts(p.HostsFile)
	if err != nil {
		return nil, err
	}
	p.Hosts = hosts

	if p.Index > hosts.Len() {
		return nil, &types.ConfigError{
			Field:   "index",
			Message: fmt.Sprintf("%d is outside [0, %d]", p.Index, hosts.Len()),
		}
	}

	return p, nil
}

// LoadHosts reads a newline-delimited host list. Entries are not resolved.
func LoadHosts(path string) (types.HostChain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &types.ConfigError{Field: "hosts_file", Message: "failed to open host list", Err: err}
	}
	defer f.Close()

	var hosts types.HostChain
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, &types.ConfigError{Field: "hosts_file", Message: "failed to read host list", Err: err}
	}
	return hosts, nil
}

// Transport picks the hop transport from the tool argument.
func (p *Params) Transport() TransportKind {
	if filepath.Base(p.Tool) == string(TransportGRPC) {
		return TransportGRPC
	}
	return TransportTCP
}

// DestPath is where a receiving node persists the stream.
func (p *Params) DestPath() string {
	return filepath.Join(p.DestDir, filepath.Base(p.SourceFile))
}

// HostAddr returns the dial address of a host entry, applying the
// configured port when the entry has none.
func (p *Params) HostAddr(host string) string {
	if _, port, err := net.SplitHostPort(host); err == nil && port != "" {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(p.Port))
}

func parseInt(field, value string, min, max int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, &types.ConfigError{Field: field, Message: fmt.Sprintf("not an integer: %q", value), Err: err}
	}
	if n < min || n > max {
		return 0, &types.ConfigError{Field: field, Message: fmt.Sprintf("%d is outside [%d, %d]", n, min, max)}
	}
	return n, nil
}

// maxSeconds bounds the spans a time.Duration can hold.
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

func parseSeconds(field, value string, allowZero bool) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &types.ConfigError{Field: field, Message: fmt.Sprintf("not a number of seconds: %q", value), Err: err}
	}
	if f < 0 || (f == 0 && !allowZero) || f >= maxSeconds {
		return 0, &types.ConfigError{Field: field, Message: fmt.Sprintf("%v seconds is out of range", f)}
	}
	return time.Duration(f * float64(time.Second)), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
