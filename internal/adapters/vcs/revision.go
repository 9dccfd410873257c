package vcs

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// DefaultAbbrev matches the length `git rev-parse --short` prints for small repositories.
const DefaultAbbrev = 7

// ErrNoRevision is returned when the directory is not inside a repository
// or the repository has no commits yet.
var ErrNoRevision = errors.New("no source revision available")

// RevisionSource implements ports.RevisionSource on top of go-git.
type RevisionSource struct {
	dir    string
	abbrev int
}

// NewRevisionSource reads revisions of the repository containing dir.
func NewRevisionSource(dir string) *RevisionSource {
	return &RevisionSource{dir: dir, abbrev: DefaultAbbrev}
}

// ShortRevision returns the abbreviated hash of HEAD.
func (r *RevisionSource) ShortRevision(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	repo, err := git.PlainOpenWithOptions(r.dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", fmt.Errorf("%w: %s is not inside a git repository", ErrNoRevision, r.dir)
		}
		return "", fmt.Errorf("failed to open repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", fmt.Errorf("%w: repository has no commits", ErrNoRevision)
		}
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	hash := head.Hash().String()
	if r.abbrev > 0 && r.abbrev < len(hash) {
		hash = hash[:r.abbrev]
	}
	return hash, nil
}
