package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	httpadapter "github.com/melih/imgbuild/internal/adapters/http"
	"github.com/melih/imgbuild/internal/config"
	"github.com/melih/imgbuild/internal/core/domain"
	"github.com/melih/imgbuild/internal/logging"
	"github.com/melih/imgbuild/internal/naming"
	"github.com/melih/imgbuild/internal/pipeline"
)

const shutdownTimeout = 10 * time.Second

// execute runs the CLI and returns the process exit status.
func execute(ctx context.Context, d deps, args []string, stdout, stderr io.Writer) int {
	logger := logging.New(stderr, log.InfoLevel)

	root := newRootCommand(d, logger)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		logger.Warn("command interrupted", "error", err)
		return 130
	case errors.Is(err, domain.ErrUsage):
		return 1
	}
	logger.Error("command failed", "error", err)
	return domain.ExitCode(err)
}

type globalFlags struct {
	logLevel   string
	configFile string
	root       string
}

// session is what every command needs once flags are parsed.
type session struct {
	file   *config.File
	build  domain.BuildConfig
	fs     afero.Fs
	logger *log.Logger
}

func load(cmd *cobra.Command, d deps, g *globalFlags, logger *log.Logger) (*session, error) {
	file, path, err := config.Load(config.LoadOptions{
		Root:       g.root,
		ConfigFile: g.configFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, err
	}
	build, err := file.BuildConfig(g.root)
	if err != nil {
		return nil, err
	}
	if path != "" {
		logger.Debug("loaded config", "path", path)
	}
	return &session{file: file, build: build, fs: d.newFs(build.Root), logger: logger}, nil
}

func (s *session) pipeline(d deps, out io.Writer, buildOut, buildErr io.Writer) (*pipeline.Pipeline, error) {
	builder, err := d.newBuilder(s.file, logging.Component(s.logger, "builder"))
	if err != nil {
		return nil, domain.NewStepError(domain.StepBuild, err)
	}
	return pipeline.New(pipeline.Options{
		Config:    s.build,
		Fs:        s.fs,
		Builder:   builder,
		Revisions: d.newRevisions(s.build.Root),
		Clock:     d.clock,
		Logger:    logging.Component(s.logger, "pipeline"),
		Out:       out,
		BuildOut:  buildOut,
		BuildErr:  buildErr,
	}), nil
}

func newRootCommand(d deps, logger *log.Logger) *cobra.Command {
	g := &globalFlags{logLevel: logging.DefaultLevel, root: "."}

	root := &cobra.Command{
		Use:   "imgbuild <mode>",
		Short: "Stage the application sources and build a tagged container image",
		Long: `imgbuild copies the configured sources into a fresh staging directory,
builds a container image from it and removes the staging directory again.

The image is tagged <prefix>:<mode>_<revision>_<timestamp>, where mode is one of
dev or prod and revision is the short hash of the checked-out commit.`,
		Example:       "  imgbuild dev\n  imgbuild prod --engine docker",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				_ = cmd.Usage()
				return domain.ErrUsage
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Usage()
				return domain.ErrUsage
			}
			mode, err := domain.ParseMode(args[0])
			if err != nil {
				err = domain.NewStepError(domain.StepValidate, err)
				fmt.Fprintln(cmd.OutOrStdout(), err)
				return err
			}

			s, err := load(cmd, d, g, logger)
			if err != nil {
				return err
			}
			p, err := s.pipeline(d, cmd.OutOrStdout(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), err)
				return err
			}
			result, err := p.Run(cmd.Context(), mode)
			if err != nil {
				return err
			}
			logger.Debug("build finished", "image", result.Image.String(), "duration", result.Duration)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&g.logLevel, "log-level", logging.DefaultLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&g.configFile, "config", "", "Config file (default <root>/"+config.FileName+".yaml)")
	root.PersistentFlags().StringVar(&g.root, "root", ".", "Project root holding the sources to stage")
	root.PersistentFlags().String("engine", config.EngineCLI, "Image builder: cli (docker/podman binary) or docker (Engine API)")
	root.PersistentFlags().String("engine-binary", "docker", "Container CLI used by the cli engine")
	root.PersistentFlags().String("tag-style", string(domain.TagStyleRevision), "Tag layout: revision or timestamp")
	root.PersistentFlags().Bool("unique-staging", false, "Suffix the staging directory with the run id")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(g.logLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
		return nil
	}

	root.AddCommand(
		newNameCommand(d, g, logger),
		newCleanCommand(d, g, logger),
		newServeCommand(d, g, logger),
	)
	return root
}

func newNameCommand(d deps, g *globalFlags, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "name <mode>",
		Short: "Print the image name a build would produce",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := domain.ParseMode(args[0])
			if err != nil {
				return domain.NewStepError(domain.StepValidate, err)
			}
			s, err := load(cmd, d, g, logger)
			if err != nil {
				return err
			}
			namer := &naming.Namer{
				Prefix:    s.build.Prefix,
				Layout:    s.build.TimestampLayout,
				Style:     s.build.TagStyle,
				Clock:     d.clock,
				Revisions: d.newRevisions(s.build.Root),
			}
			tag, err := namer.Name(cmd.Context(), mode)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tag.Image)
			return nil
		},
	}
}

func newCleanCommand(d deps, g *globalFlags, logger *log.Logger) *cobra.Command {
	var unlock bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove staging directories and generated files left by earlier runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, d, g, logger)
			if err != nil {
				return err
			}
			removed, err := pipeline.Clean(s.fs, s.build, unlock, logging.Component(logger, "cleanup"))
			for _, path := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", path)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&unlock, "unlock", false, "Also remove a stale lock file")
	return cmd
}

func newServeCommand(d deps, g *globalFlags, logger *log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept build requests over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, d, g, logger)
			if err != nil {
				return err
			}
			p, err := s.pipeline(d, cmd.OutOrStdout(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			app := httpadapter.NewServer(cmd.Context(), httpadapter.NewBuildHandler(p))
			srvLogger := logging.Component(logger, "http")

			errCh := make(chan error, 1)
			go func() {
				errCh <- app.Listen(s.file.Listen)
			}()
			srvLogger.Info("listening", "addr", s.file.Listen, "root", s.build.Root)

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				srvLogger.Info("shutting down")
				return app.ShutdownWithTimeout(shutdownTimeout)
			}
		},
	}

	cmd.Flags().String("listen", ":3000", "Address to listen on")
	return cmd
}
