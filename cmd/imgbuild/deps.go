package main

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/melih/imgbuild/internal/adapters/docker"
	"github.com/melih/imgbuild/internal/adapters/engine"
	"github.com/melih/imgbuild/internal/adapters/vcs"
	"github.com/melih/imgbuild/internal/config"
	"github.com/melih/imgbuild/internal/core/ports"
)

// deps are the infrastructure adapters the commands are wired with.
// Tests swap them for in-memory fakes.
type deps struct {
	newFs        func(root string) afero.Fs
	newRevisions func(root string) ports.RevisionSource
	newBuilder   func(cfg *config.File, logger *log.Logger) (ports.ImageBuilder, error)
	clock        ports.Clock
}

func defaultDeps() deps {
	return deps{
		newFs: func(root string) afero.Fs {
			return afero.NewBasePathFs(afero.NewOsFs(), root)
		},
		newRevisions: func(root string) ports.RevisionSource {
			return vcs.NewRevisionSource(root)
		},
		newBuilder: newBuilder,
	}
}

func newBuilder(cfg *config.File, logger *log.Logger) (ports.ImageBuilder, error) {
	switch cfg.Engine {
	case config.EngineCLI:
		return engine.New(cfg.EngineBinary, logger)
	case config.EngineDocker:
		return docker.NewBuilder(logger)
	}
	return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
}
