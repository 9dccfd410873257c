package staging

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
)

// Cleaner removes staging state. Removing a missing path is not an error.
type Cleaner struct {
	fs     afero.Fs
	logger *log.Logger
}

func NewCleaner(fs afero.Fs, logger *log.Logger) *Cleaner {
	if logger == nil {
		logger = log.Default()
	}
	return &Cleaner{fs: fs, logger: logger}
}

// Clean removes every path and keeps going past failures, returning the first.
func (c *Cleaner) Clean(paths ...string) error {
	var first error
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := checkLocal(path); err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		if err := c.fs.RemoveAll(path); err != nil {
			c.logger.Warn("cleanup failed", "path", path, "error", err)
			if first == nil {
				first = fmt.Errorf("failed to remove %s: %w", path, err)
			}
			continue
		}
		c.logger.Debug("removed", "path", path)
	}
	return first
}
