package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/distribution/reference"
)

// Mode is the build mode an image is produced for.
type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

// Modes lists every supported build mode.
var Modes = []Mode{ModeDev, ModeProd}

// ParseMode validates a raw mode argument.
func ParseMode(raw string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == raw {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q (expected one of %s)", ErrInvalidMode, raw, modeList())
}

func modeList() string {
	names := make([]string, len(Modes))
	for i, m := range Modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// TagStyle selects which fields make up the image tag.
type TagStyle string

const (
	// TagStyleRevision tags as {mode}_{revision}_{timestamp}.
	TagStyleRevision TagStyle = "revision"
	// TagStyleTimestamp tags with the timestamp only.
	TagStyleTimestamp TagStyle = "timestamp"
)

// ParseTagStyle validates a tag style name. Empty means TagStyleRevision.
func ParseTagStyle(raw string) (TagStyle, error) {
	switch TagStyle(raw) {
	case "", TagStyleRevision:
		return TagStyleRevision, nil
	case TagStyleTimestamp:
		return TagStyleTimestamp, nil
	}
	return "", fmt.Errorf("unknown tag style %q", raw)
}

// ImageName is a repository:tag pair handed to the image builder.
type ImageName struct {
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
}

// NewImageName builds an image name and rejects anything the build tool
// would not accept verbatim.
func NewImageName(repository, tag string) (ImageName, error) {
	name := ImageName{Repository: repository, Tag: tag}
	ref, err := reference.Parse(name.String())
	if err != nil {
		return ImageName{}, fmt.Errorf("invalid image name %q: %w", name.String(), err)
	}
	if _, ok := ref.(reference.NamedTagged); !ok {
		return ImageName{}, fmt.Errorf("invalid image name %q: missing tag", name.String())
	}
	return name, nil
}

func (n ImageName) String() string {
	return n.Repository + ":" + n.Tag
}

// ManifestEntry copies Source (relative to the project root) to Destination
// (relative to the staging directory).
type ManifestEntry struct {
	Source      string `json:"source" mapstructure:"source"`
	Destination string `json:"destination" mapstructure:"destination"`
}

// Target returns the destination, falling back to the source path.
func (e ManifestEntry) Target() string {
	if e.Destination == "" {
		return e.Source
	}
	return e.Destination
}

// DependencyManifest describes the optional generated dependency file.
type DependencyManifest struct {
	// Command is run in the project root; its stdout becomes File. Empty disables generation.
	Command []string
	// File is relative to the project root.
	File string
}

// Enabled reports whether a dependency manifest is generated for the run.
func (d DependencyManifest) Enabled() bool {
	return len(d.Command) > 0
}

// BuildConfig is everything one run needs. It is not mutated once a run starts.
type BuildConfig struct {
	Root            string
	Prefix          string
	TimestampLayout string
	TagStyle        TagStyle
	StagingDir      string
	UniqueStaging   bool
	Manifest        []ManifestEntry
	RuntimeDirs     []string
	ClearDirs       []string
	Dependencies    DependencyManifest
	Dockerfile      string
	LockFile        string
}

// BuildResult summarises a finished run.
type BuildResult struct {
	RunID       string        `json:"run_id"`
	Mode        Mode          `json:"mode"`
	Image       ImageName     `json:"image"`
	Revision    string        `json:"revision,omitempty"`
	Timestamp   string        `json:"timestamp"`
	StagedFiles int           `json:"staged_files"`
	StagedBytes int64         `json:"staged_bytes"`
	Duration    time.Duration `json:"duration"`
}
