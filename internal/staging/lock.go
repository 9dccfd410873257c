package staging

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/melih/imgbuild/internal/core/domain"
)

// Lock marks a build in progress for one project root.
type Lock struct {
	fs   afero.Fs
	path string
}

// AcquireLock creates path exclusively. A held lock fails with domain.ErrLocked.
func AcquireLock(fs afero.Fs, path, owner string) (*Lock, error) {
	if err := checkLocal(path); err != nil {
		return nil, err
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			holder, _ := afero.ReadFile(fs, path)
			return nil, fmt.Errorf("%w (%s): %s", domain.ErrLocked, path, holder)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	_, err = fmt.Fprintf(f, "%s pid=%d since=%s", owner, os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = fs.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return &Lock{fs: fs, path: path}, nil
}

// Release removes the lock file. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := l.fs.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
