package ports

import (
	"context"

	"github.com/melih/imgbuild/internal/core/domain"
)

// BuildRunner runs the whole package-and-tag pipeline for one mode.
// The HTTP trigger depends on this rather than on the pipeline package.
type BuildRunner interface {
	Run(ctx context.Context, mode domain.Mode) (*domain.BuildResult, error)
}
