// Package engine builds images by shelling out to a container CLI (docker or podman).
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/melih/imgbuild/internal/core/ports"
)

// ErrNotAvailable is returned when the configured binary cannot be found.
var ErrNotAvailable = errors.New("container engine is not available")

// ExitError reports a non-zero exit of the build tool.
type ExitError struct {
	Tool string
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Tool, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode is propagated as the process exit status.
func (e *ExitError) ExitCode() int { return e.Code }

// Engine implements ports.ImageBuilder with a CLI binary.
type Engine struct {
	binary string
	path   string
	logger *log.Logger
}

// New resolves binary on PATH (or uses it verbatim if it contains a separator).
func New(binary string, logger *log.Logger) (*Engine, error) {
	if binary == "" {
		binary = "docker"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAvailable, binary, err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{binary: filepath.Base(binary), path: path, logger: logger}, nil
}

// Name returns the binary name, e.g. docker or podman.
func (e *Engine) Name() string {
	return e.binary
}

// Args returns the build arguments without the binary.
func (e *Engine) Args(req ports.BuildRequest) []string {
	args := []string{"build", "-t", req.Image.String()}
	if req.Dockerfile != "" {
		args = append(args, "-f", filepath.Join(req.ContextDir, req.Dockerfile))
	}
	return append(args, req.ContextDir)
}

// Build runs the build tool and waits for it.
func (e *Engine) Build(ctx context.Context, req ports.BuildRequest) error {
	args := e.Args(req)
	cmd := exec.CommandContext(ctx, e.path, args...)
	cmd.Stdout = writerOrDiscard(req.Stdout)
	cmd.Stderr = writerOrDiscard(req.Stderr)

	e.logger.Debug("running build tool", "path", e.path, "args", args)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s build interrupted: %w", e.binary, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Tool: e.binary, Code: exitErr.ExitCode(), Err: err}
		}
		return fmt.Errorf("failed to run %s: %w", e.binary, err)
	}
	return nil
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
