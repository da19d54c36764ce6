package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chainput/pkg/config"
	"chainput/pkg/node"
	"chainput/pkg/types"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logTimeLayout = "2006-01-02 15:04:05-0700"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		verbose     bool
		showSummary bool
	)
	opts := config.LoadOptionsFromEnv()

	cmd := &cobra.Command{
		Use:   "chainput [flags] <source> <destDir> <tool> <connectTimeout> <acceptTimeout> <port> <hostTries> <chainTries> <delay> <index> <hostsFile> [autoremove]",
		Short: "Relay one file along a chain of hosts",
		Long: `Each node of the chain receives the file from its predecessor, keeps a
local copy and streams it on to the next reachable host. Unreachable hosts
are skipped within the configured attempt budget; when none is left the
stream is drained so the upstream never blocks.`,
		Args:          cobra.MinimumNArgs(config.MinArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := uuid.New().String()
			logger := setupLogger(verbose).With(zap.String("run_id", runID))
			defer logger.Sync()

			if opts.Artifact == "" {
				if exe, err := os.Executable(); err == nil {
					opts.Artifact = exe
				}
			}

			params, err := config.Parse(args, opts)
			if err != nil {
				logger.Error("Invalid invocation", zap.Error(err))
				return err
			}
			logger = logger.With(zap.Int("index", params.Index))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n, err := node.New(params, runID, logger)
			if err != nil {
				logger.Error("Cannot start node", zap.Error(err))
				return err
			}

			out, err := n.Run(ctx)
			if showSummary {
				printSummary(os.Stderr, out, err)
			}
			if err != nil {
				logger.Error("Run failed", zap.Error(err), zap.Bool("fatal", types.IsFatal(err)))
				if types.IsFatal(err) {
					return err
				}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.SetInterspersed(false)
	flags.BoolVar(&opts.Autoremove, "autoremove", opts.Autoremove, "remove the hosts file and the artifact when done")
	flags.StringVar(&opts.Compression, "compression", opts.Compression, "hop compression: none, lz4 or zstd (env CHAINPUT_COMPRESSION)")
	flags.StringVar(&opts.ChunkSize, "chunk-size", opts.ChunkSize, "tee chunk size, e.g. 256KiB (env CHAINPUT_CHUNK_SIZE)")
	flags.IntVar(&opts.QueueDepth, "queue-depth", opts.QueueDepth, "chunks buffered per tee consumer (env CHAINPUT_QUEUE_DEPTH)")
	flags.StringVar(&opts.Artifact, "artifact", opts.Artifact, "deployment artifact removed by autoremove (default: this executable)")
	flags.BoolVar(&showSummary, "summary", false, "print a run summary to stderr")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	return cmd
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.Encoding = "console"
	config.Sampling = nil
	config.OutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(logTimeLayout)
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
