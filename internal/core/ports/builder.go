package ports

import (
	"context"
	"io"
	"time"

	"github.com/melih/imgbuild/internal/core/domain"
)

// BuildRequest describes one image build.
type BuildRequest struct {
	// ContextDir is the staging directory handed to the build tool.
	ContextDir string
	// Dockerfile is relative to ContextDir. Empty means the tool default.
	Dockerfile string
	Image      domain.ImageName
	Stdout     io.Writer
	Stderr     io.Writer
}

// ImageBuilder produces a named image in the local image store.
// Implementations are free to shell out (docker, podman) or talk to an engine API.
type ImageBuilder interface {
	Name() string
	Build(ctx context.Context, req BuildRequest) error
}

// RevisionSource identifies the source snapshot being built.
type RevisionSource interface {
	// ShortRevision returns an abbreviated identifier of the current snapshot.
	ShortRevision(ctx context.Context) (string, error)
}

// Clock supplies the run timestamp.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
