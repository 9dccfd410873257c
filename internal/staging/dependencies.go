package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/afero"

	"github.com/melih/imgbuild/internal/core/domain"
)

// GenerateDependencies runs manifest.Command in workDir and writes its stdout to
// manifest.File on fs. It does nothing when no command is configured.
func GenerateDependencies(ctx context.Context, fs afero.Fs, workDir string, manifest domain.DependencyManifest) error {
	if !manifest.Enabled() {
		return nil
	}
	if err := checkLocal(manifest.File); err != nil {
		return err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, manifest.Command[0], manifest.Command[1:]...)
	cmd.Dir = workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return fmt.Errorf("%s: %w: %s", strings.Join(manifest.Command, " "), err, msg)
		}
		return fmt.Errorf("%s: %w", strings.Join(manifest.Command, " "), err)
	}

	if err := afero.WriteFile(fs, manifest.File, stdout.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", manifest.File, err)
	}
	return nil
}
