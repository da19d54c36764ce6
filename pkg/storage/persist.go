package storage

import (
	"io"

	"go.uber.org/zap"
)

// Persist writes src to path and commits it once src ends cleanly. On any
// failure the partial file is discarded and the rest of src is drained, so
// the producer feeding src is never blocked by the disk.
func Persist(src io.Reader, path string, logger *zap.Logger) (int64, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sink, err := Create(path)
	if err != nil {
		logger.Error("Cannot persist stream, discarding local copy",
			zap.String("path", path),
			zap.Error(err))
		io.Copy(io.Discard, src)
		return 0, err
	}

	if _, err := io.Copy(sink, src); err != nil {
		sink.Abort()
		logger.Error("Failed to persist stream, discarding local copy",
			zap.String("path", path),
			zap.Int64("written", sink.Written()),
			zap.Error(err))
		io.Copy(io.Discard, src)
		return sink.Written(), err
	}

	if err := sink.Commit(); err != nil {
		logger.Error("Failed to commit received file",
			zap.String("path", path),
			zap.Error(err))
		return sink.Written(), err
	}

	logger.Info("Received file persisted",
		zap.String("path", path),
		zap.Int64("bytes", sink.Written()))
	return sink.Written(), nil
}
