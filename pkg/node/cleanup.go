package node

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Cleanup removes the node's deployment files. Empty and already-missing
// paths are skipped; other failures are logged and returned together but are
// never fatal.
func Cleanup(logger *zap.Logger, paths ...string) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	var errs error
	removed := 0
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
			continue
		}
		removed++
	}

	if errs != nil {
		logger.Warn("Cleanup incomplete", zap.Int("removed", removed), zap.Error(errs))
		return errs
	}
	logger.Info("Cleanup done", zap.Int("removed", removed))
	return nil
}
