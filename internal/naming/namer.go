// Package naming computes the image name for a build run.
package naming

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/melih/imgbuild/internal/core/domain"
	"github.com/melih/imgbuild/internal/core/ports"
)

const (
	// DefaultPrefix is the repository part of every image name.
	DefaultPrefix = "app_server_name"
	// DefaultTimestampLayout renders as yy.mm.dd.HHMM, e.g. 24.01.15.1030.
	DefaultTimestampLayout = "06.01.02.1504"
)

// Tag carries the fields an image name was computed from.
type Tag struct {
	Image     domain.ImageName
	Revision  string
	Timestamp string
}

// Namer derives image names from mode, revision and time.
type Namer struct {
	Prefix    string
	Layout    string
	Style     domain.TagStyle
	Clock     ports.Clock
	Revisions ports.RevisionSource
}

// Name computes the tag for mode. The clock is read exactly once.
// A revision lookup failure is reported as a StepRevision error.
func (n *Namer) Name(ctx context.Context, mode domain.Mode) (Tag, error) {
	prefix := n.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	layout := n.Layout
	if layout == "" {
		layout = DefaultTimestampLayout
	}

	now := time.Now()
	if n.Clock != nil {
		now = n.Clock.Now()
	}
	tag := Tag{Timestamp: now.Format(layout)}

	var raw string
	switch n.Style {
	case domain.TagStyleTimestamp:
		raw = tag.Timestamp
	case domain.TagStyleRevision, "":
		if n.Revisions == nil {
			return Tag{}, domain.NewStepError(domain.StepRevision, errors.New("no revision source configured"))
		}
		rev, err := n.Revisions.ShortRevision(ctx)
		if err != nil {
			return Tag{}, domain.NewStepError(domain.StepRevision, err)
		}
		tag.Revision = rev
		raw = fmt.Sprintf("%s_%s_%s", mode, rev, tag.Timestamp)
	default:
		return Tag{}, domain.NewStepError(domain.StepValidate, fmt.Errorf("unknown tag style %q", n.Style))
	}

	image, err := domain.NewImageName(prefix, raw)
	if err != nil {
		return Tag{}, domain.NewStepError(domain.StepValidate, err)
	}
	tag.Image = image
	return tag, nil
}
