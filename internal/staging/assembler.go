package staging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/docker/go-units"
	"github.com/spf13/afero"

	"github.com/melih/imgbuild/internal/core/domain"
)

const dirPerm = 0o755

// Plan is the declarative content of a staging directory.
type Plan struct {
	Dir         string
	Manifest    []domain.ManifestEntry
	RuntimeDirs []string
	ClearDirs   []string
}

// Stats counts what Assemble copied.
type Stats struct {
	Files int
	Bytes int64
}

// Assembler copies manifest entries into a fresh staging directory.
type Assembler struct {
	fs     afero.Fs
	logger *log.Logger
}

// NewAssembler returns an Assembler working on fs.
func NewAssembler(fs afero.Fs, logger *log.Logger) *Assembler {
	if logger == nil {
		logger = log.Default()
	}
	return &Assembler{fs: fs, logger: logger}
}

// Assemble creates plan.Dir and populates it. The directory must not exist yet.
// Every manifest source must exist; the first missing one aborts assembly.
func (a *Assembler) Assemble(ctx context.Context, plan Plan) (Stats, error) {
	var stats Stats

	if err := checkLocal(plan.Dir); err != nil {
		return stats, err
	}
	exists, err := afero.Exists(a.fs, plan.Dir)
	if err != nil {
		return stats, fmt.Errorf("failed to stat staging dir: %w", err)
	}
	if exists {
		return stats, fmt.Errorf("%w: %s", domain.ErrStagingExists, plan.Dir)
	}
	if err := a.fs.MkdirAll(plan.Dir, dirPerm); err != nil {
		return stats, fmt.Errorf("failed to create staging dir: %w", err)
	}

	for _, entry := range plan.Manifest {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := checkLocal(entry.Source); err != nil {
			return stats, err
		}
		if err := checkLocal(entry.Target()); err != nil {
			return stats, err
		}
		if _, err := a.fs.Stat(entry.Source); err != nil {
			if os.IsNotExist(err) {
				return stats, fmt.Errorf("%w: %s", domain.ErrSourceMissing, entry.Source)
			}
			return stats, fmt.Errorf("failed to stat %s: %w", entry.Source, err)
		}

		dst := filepath.Join(plan.Dir, entry.Target())
		copied, err := a.copyTree(entry.Source, dst)
		if err != nil {
			return stats, err
		}
		a.logger.Debug("staged", "source", entry.Source, "destination", dst, "files", copied.Files)
		stats.Files += copied.Files
		stats.Bytes += copied.Bytes
	}

	for _, dir := range plan.RuntimeDirs {
		if err := checkLocal(dir); err != nil {
			return stats, err
		}
		if err := a.fs.MkdirAll(filepath.Join(plan.Dir, dir), dirPerm); err != nil {
			return stats, fmt.Errorf("failed to create runtime dir %s: %w", dir, err)
		}
	}

	for _, dir := range plan.ClearDirs {
		if err := checkLocal(dir); err != nil {
			return stats, err
		}
		removed, err := a.emptyDir(filepath.Join(plan.Dir, dir))
		if err != nil {
			return stats, err
		}
		stats.Files -= removed.Files
		stats.Bytes -= removed.Bytes
		a.logger.Debug("cleared", "dir", dir, "files", removed.Files)
	}

	a.logger.Info("staging assembled", "dir", plan.Dir, "files", stats.Files, "size", units.HumanSize(float64(stats.Bytes)))
	return stats, nil
}

func (a *Assembler) copyTree(src, dst string) (Stats, error) {
	var stats Stats
	err := afero.Walk(a.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.Mode()&os.ModeSymlink != 0 {
			// follow the link; only regular targets are staged
			info, err = a.fs.Stat(path)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", path, err)
			}
			if info.IsDir() {
				return fmt.Errorf("cannot stage %s: symlinked directories are not supported", path)
			}
		}

		switch {
		case info.IsDir():
			return a.fs.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode().IsRegular():
			n, err := a.copyFile(path, target, info.Mode().Perm())
			if err != nil {
				return err
			}
			stats.Files++
			stats.Bytes += n
			return nil
		default:
			return fmt.Errorf("cannot stage %s: unsupported file type %s", path, info.Mode().Type())
		}
	})
	if err != nil {
		return stats, fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return stats, nil
}

func (a *Assembler) copyFile(src, dst string, perm os.FileMode) (int64, error) {
	if err := a.fs.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return 0, err
	}
	in, err := a.fs.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := a.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// emptyDir removes everything below dir and leaves dir itself in place.
func (a *Assembler) emptyDir(dir string) (Stats, error) {
	var removed Stats
	if err := a.fs.MkdirAll(dir, dirPerm); err != nil {
		return removed, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	entries, err := afero.ReadDir(a.fs, dir)
	if err != nil {
		return removed, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		err := afero.Walk(a.fs, path, func(_ string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.Mode().IsRegular() {
				removed.Files++
				removed.Bytes += info.Size()
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
		if err := a.fs.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("failed to clear %s: %w", path, err)
		}
	}
	return removed, nil
}

// checkLocal rejects absolute paths and paths escaping the project root.
func checkLocal(path string) error {
	if !filepath.IsLocal(path) {
		return fmt.Errorf("path %q must be relative to the project root", path)
	}
	return nil
}
