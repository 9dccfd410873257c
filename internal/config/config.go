// Package config loads imgbuild settings from .imgbuild.yaml, IMGBUILD_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/melih/imgbuild/internal/core/domain"
	"github.com/melih/imgbuild/internal/naming"
)

const (
	// FileName is the config file looked up in the project root (without extension).
	FileName  = ".imgbuild"
	EnvPrefix = "IMGBUILD"
)

// Engine kinds.
const (
	EngineCLI    = "cli"
	EngineDocker = "docker"
)

// Dependencies configures the generated dependency manifest.
type Dependencies struct {
	// Command is split on whitespace; empty disables generation.
	Command string `mapstructure:"command"`
	File    string `mapstructure:"file"`
}

// File mirrors the config file layout.
type File struct {
	Prefix          string                 `mapstructure:"prefix"`
	TimestampLayout string                 `mapstructure:"timestamp_layout"`
	TagStyle        string                 `mapstructure:"tag_style"`
	StagingDir      string                 `mapstructure:"staging_dir"`
	UniqueStaging   bool                   `mapstructure:"unique_staging"`
	Manifest        []domain.ManifestEntry `mapstructure:"manifest"`
	RuntimeDirs     []string               `mapstructure:"runtime_dirs"`
	ClearDirs       []string               `mapstructure:"clear_dirs"`
	Dependencies    Dependencies           `mapstructure:"dependencies"`
	Dockerfile      string                 `mapstructure:"dockerfile"`
	LockFile        string                 `mapstructure:"lock_file"`
	Engine          string                 `mapstructure:"engine"`
	EngineBinary    string                 `mapstructure:"engine_binary"`
	Listen          string                 `mapstructure:"listen"`
}

// Default returns the settings used for the packaged Flask service.
func Default() File {
	return File{
		Prefix:          naming.DefaultPrefix,
		TimestampLayout: naming.DefaultTimestampLayout,
		TagStyle:        string(domain.TagStyleRevision),
		StagingDir:      "build_tmp",
		Manifest: []domain.ManifestEntry{
			{Source: "app"},
			{Source: "conf"},
			{Source: "run.py"},
			{Source: "place_holder.py"},
			{Source: "Dockerfile"},
		},
		RuntimeDirs:  []string{"logs"},
		ClearDirs:    []string{"conf/global"},
		Dependencies: Dependencies{File: "requirements.txt"},
		LockFile:     ".imgbuild.lock",
		Engine:       EngineCLI,
		EngineBinary: "docker",
		Listen:       ":3000",
	}
}

// flagKeys maps viper keys to the flag names that may override them.
var flagKeys = map[string]string{
	"engine":         "engine",
	"engine_binary":  "engine-binary",
	"tag_style":      "tag-style",
	"unique_staging": "unique-staging",
	"listen":         "listen",
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// Root is the project root; the config file is searched there.
	Root string
	// ConfigFile, when set, is used exclusively and must exist.
	ConfigFile string
	// Flags are bound on top of file and environment values. May be nil.
	Flags *pflag.FlagSet
}

// Load resolves the configuration. It returns the path of the file that was
// read, or "" when only defaults, environment and flags applied.
func Load(opts LoadOptions) (*File, string, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("prefix", defaults.Prefix)
	v.SetDefault("timestamp_layout", defaults.TimestampLayout)
	v.SetDefault("tag_style", defaults.TagStyle)
	v.SetDefault("staging_dir", defaults.StagingDir)
	v.SetDefault("unique_staging", defaults.UniqueStaging)
	v.SetDefault("manifest", defaults.Manifest)
	v.SetDefault("runtime_dirs", defaults.RuntimeDirs)
	v.SetDefault("clear_dirs", defaults.ClearDirs)
	v.SetDefault("dependencies.command", defaults.Dependencies.Command)
	v.SetDefault("dependencies.file", defaults.Dependencies.File)
	v.SetDefault("dockerfile", defaults.Dockerfile)
	v.SetDefault("lock_file", defaults.LockFile)
	v.SetDefault("engine", defaults.Engine)
	v.SetDefault("engine_binary", defaults.EngineBinary)
	v.SetDefault("listen", defaults.Listen)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		root := opts.Root
		if root == "" {
			root = "."
		}
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(root)
	}

	resolved := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		resolved = v.ConfigFileUsed()
	}

	if opts.Flags != nil {
		for key, name := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, "", fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg File
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, resolved, nil
}

// Validate checks values viper cannot type-check.
func (f *File) Validate() error {
	if _, err := domain.ParseTagStyle(f.TagStyle); err != nil {
		return err
	}
	switch f.Engine {
	case EngineCLI, EngineDocker:
	default:
		return fmt.Errorf("unknown engine %q (expected %s or %s)", f.Engine, EngineCLI, EngineDocker)
	}
	if f.StagingDir == "" {
		return errors.New("staging_dir must not be empty")
	}
	if len(f.Manifest) == 0 {
		return errors.New("manifest must list at least one source")
	}
	for i, entry := range f.Manifest {
		if entry.Source == "" {
			return fmt.Errorf("manifest[%d]: source is required", i)
		}
		if within(f.StagingDir, entry.Source) {
			return fmt.Errorf("staging_dir %q must not be inside manifest source %q", f.StagingDir, entry.Source)
		}
	}
	if f.Dependencies.Command != "" && f.Dependencies.File == "" {
		return errors.New("dependencies.file is required when dependencies.command is set")
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	path, dir = filepath.Clean(path), filepath.Clean(dir)
	return dir == "." || path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

// BuildConfig converts the file settings for a project rooted at root.
func (f *File) BuildConfig(root string) (domain.BuildConfig, error) {
	style, err := domain.ParseTagStyle(f.TagStyle)
	if err != nil {
		return domain.BuildConfig{}, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return domain.BuildConfig{}, fmt.Errorf("failed to resolve root: %w", err)
	}
	return domain.BuildConfig{
		Root:            abs,
		Prefix:          f.Prefix,
		TimestampLayout: f.TimestampLayout,
		TagStyle:        style,
		StagingDir:      f.StagingDir,
		UniqueStaging:   f.UniqueStaging,
		Manifest:        append([]domain.ManifestEntry(nil), f.Manifest...),
		RuntimeDirs:     append([]string(nil), f.RuntimeDirs...),
		ClearDirs:       append([]string(nil), f.ClearDirs...),
		Dependencies: domain.DependencyManifest{
			Command: strings.Fields(f.Dependencies.Command),
			File:    f.Dependencies.File,
		},
		Dockerfile: f.Dockerfile,
		LockFile:   f.LockFile,
	}, nil
}
