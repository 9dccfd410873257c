// Package pipeline runs one package-and-tag build: lock, clean, name, stage, build.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/melih/imgbuild/internal/core/domain"
	"github.com/melih/imgbuild/internal/core/ports"
	"github.com/melih/imgbuild/internal/naming"
	"github.com/melih/imgbuild/internal/staging"
)

var errNoBuilder = errors.New("no image builder configured")

// Progress lines printed for operators and wrapper scripts.
const (
	MsgStart   = "build image start..."
	MsgSuccess = "build image success..."
)

// Options wires a Pipeline. Fs must be rooted at Config.Root.
type Options struct {
	Config    domain.BuildConfig
	Fs        afero.Fs
	Builder   ports.ImageBuilder
	Revisions ports.RevisionSource
	Clock     ports.Clock
	Logger    *log.Logger
	// Out receives progress lines; BuildOut/BuildErr receive build tool output.
	Out      io.Writer
	BuildOut io.Writer
	BuildErr io.Writer
}

// Pipeline implements ports.BuildRunner.
type Pipeline struct {
	cfg       domain.BuildConfig
	fs        afero.Fs
	builder   ports.ImageBuilder
	namer     *naming.Namer
	assembler *staging.Assembler
	cleaner   *staging.Cleaner
	logger    *log.Logger
	out       io.Writer
	buildOut  io.Writer
	buildErr  io.Writer
	newRunID  func() string
}

func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Pipeline{
		cfg:     opts.Config,
		fs:      opts.Fs,
		builder: opts.Builder,
		namer: &naming.Namer{
			Prefix:    opts.Config.Prefix,
			Layout:    opts.Config.TimestampLayout,
			Style:     opts.Config.TagStyle,
			Clock:     opts.Clock,
			Revisions: opts.Revisions,
		},
		assembler: staging.NewAssembler(opts.Fs, logger.With("step", domain.StepStage)),
		cleaner:   staging.NewCleaner(opts.Fs, logger.With("step", domain.StepCleanup)),
		logger:    logger,
		out:       out,
		buildOut:  opts.BuildOut,
		buildErr:  opts.BuildErr,
		newRunID:  uuid.NewString,
	}
}

// Run performs one build. Any error is a *domain.StepError naming the step
// that failed. Staging state is removed on every path once the lock is held.
func (p *Pipeline) Run(ctx context.Context, mode domain.Mode) (*domain.BuildResult, error) {
	fmt.Fprintln(p.out, MsgStart)

	result, err := p.run(ctx, mode)
	if err != nil {
		fmt.Fprintln(p.out, err.Error())
		return nil, err
	}

	fmt.Fprintln(p.out, MsgSuccess)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, mode domain.Mode) (result *domain.BuildResult, err error) {
	started := time.Now()

	if _, err := domain.ParseMode(string(mode)); err != nil {
		return nil, domain.NewStepError(domain.StepValidate, err)
	}
	if p.builder == nil {
		return nil, domain.NewStepError(domain.StepBuild, errNoBuilder)
	}

	runID := p.newRunID()
	logger := p.logger.With("run", runID, "mode", mode)

	if p.cfg.LockFile != "" {
		lock, err := staging.AcquireLock(p.fs, p.cfg.LockFile, runID)
		if err != nil {
			return nil, domain.NewStepError(domain.StepLock, err)
		}
		defer func() {
			if rerr := lock.Release(); rerr != nil {
				logger.Warn("failed to release lock", "error", rerr)
			}
		}()
	}

	stagingDir := p.StagingDir(runID)
	leftovers := p.cleanupTargets(stagingDir)

	if err := p.cleaner.Clean(leftovers...); err != nil {
		return nil, domain.NewStepError(domain.StepCleanup, err)
	}
	defer func() {
		cerr := p.cleaner.Clean(leftovers...)
		if cerr == nil {
			return
		}
		if err == nil {
			result, err = nil, domain.NewStepError(domain.StepCleanup, cerr)
			return
		}
		logger.Warn("cleanup after failed build also failed", "error", cerr)
	}()

	tag, err := p.namer.Name(ctx, mode)
	if err != nil {
		return nil, err
	}
	logger = logger.With("image", tag.Image.String())

	if err := staging.GenerateDependencies(ctx, p.fs, p.cfg.Root, p.cfg.Dependencies); err != nil {
		return nil, domain.NewStepError(domain.StepDependencies, err)
	}

	stats, err := p.assembler.Assemble(ctx, p.plan(stagingDir))
	if err != nil {
		return nil, domain.NewStepError(domain.StepStage, err)
	}

	fmt.Fprintf(p.out, "image: %s\n", tag.Image)
	logger.Info("building image", "builder", p.builder.Name(), "files", stats.Files)

	err = p.builder.Build(ctx, ports.BuildRequest{
		ContextDir: filepath.Join(p.cfg.Root, stagingDir),
		Dockerfile: p.cfg.Dockerfile,
		Image:      tag.Image,
		Stdout:     p.buildOut,
		Stderr:     p.buildErr,
	})
	if err != nil {
		return nil, domain.NewStepError(domain.StepBuild, err)
	}

	result = &domain.BuildResult{
		RunID:       runID,
		Mode:        mode,
		Image:       tag.Image,
		Revision:    tag.Revision,
		Timestamp:   tag.Timestamp,
		StagedFiles: stats.Files,
		StagedBytes: stats.Bytes,
		Duration:    time.Since(started),
	}
	logger.Info("image built", "duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

// StagingDir returns the staging directory used by runID, relative to the root.
func (p *Pipeline) StagingDir(runID string) string {
	if !p.cfg.UniqueStaging || runID == "" {
		return p.cfg.StagingDir
	}
	return p.cfg.StagingDir + "-" + shortID(runID)
}

func (p *Pipeline) cleanupTargets(stagingDir string) []string {
	targets := []string{stagingDir}
	if p.cfg.Dependencies.Enabled() {
		targets = append(targets, p.cfg.Dependencies.File)
	}
	return targets
}

func (p *Pipeline) plan(stagingDir string) staging.Plan {
	manifest := append([]domain.ManifestEntry(nil), p.cfg.Manifest...)
	if p.cfg.Dependencies.Enabled() {
		manifest = append(manifest, domain.ManifestEntry{Source: p.cfg.Dependencies.File})
	}
	return staging.Plan{
		Dir:         stagingDir,
		Manifest:    manifest,
		RuntimeDirs: p.cfg.RuntimeDirs,
		ClearDirs:   p.cfg.ClearDirs,
	}
}

// Clean removes everything a run may leave behind: the staging directory
// (and per-run variants), the generated dependency manifest and, when
// unlock is set, a stale lock file.
func Clean(fs afero.Fs, cfg domain.BuildConfig, unlock bool, logger *log.Logger) ([]string, error) {
	targets := []string{cfg.StagingDir}
	if cfg.UniqueStaging {
		matches, err := afero.Glob(fs, cfg.StagingDir+"-*")
		if err != nil {
			return nil, domain.NewStepError(domain.StepCleanup, err)
		}
		targets = append(targets, matches...)
	}
	if cfg.Dependencies.Enabled() {
		targets = append(targets, cfg.Dependencies.File)
	}
	if unlock && cfg.LockFile != "" {
		targets = append(targets, cfg.LockFile)
	}

	var removed []string
	for _, target := range targets {
		ok, err := afero.Exists(fs, target)
		if err == nil && ok {
			removed = append(removed, target)
		}
	}
	if err := staging.NewCleaner(fs, logger).Clean(targets...); err != nil {
		return removed, domain.NewStepError(domain.StepCleanup, err)
	}
	return removed, nil
}

func shortID(id string) string {
	if parsed, err := uuid.Parse(id); err == nil {
		id = parsed.String()
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var _ ports.BuildRunner = (*Pipeline)(nil)
