package docker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/melih/imgbuild/internal/core/ports"
)

// Builder implements ports.ImageBuilder using the Docker Engine API.
type Builder struct {
	cli    client.APIClient
	logger *log.Logger
}

// NewBuilder connects using the DOCKER_* environment, negotiating the API version.
func NewBuilder(logger *log.Logger) (*Builder, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return NewBuilderWithClient(cli, logger), nil
}

// NewBuilderWithClient wraps an existing client.
func NewBuilderWithClient(cli client.APIClient, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.Default()
	}
	return &Builder{cli: cli, logger: logger}
}

func (b *Builder) Name() string {
	return "docker-api"
}

// Build sends the staging directory as build context and waits for the
// build stream to finish. The image is inspected afterwards so a build that
// reported success without tagging is still caught.
func (b *Builder) Build(ctx context.Context, req ports.BuildRequest) error {
	// 1. Tar the staging directory as build context
	buildCtx, err := archive.TarWithOptions(req.ContextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildCtx.Close()

	dockerfile := req.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	// 2. Send it to the daemon
	name := req.Image.String()
	b.logger.Debug("sending build context", "dir", req.ContextDir, "image", name)
	resp, err := b.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{name},
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()

	// 3. Stream build output; an error message in the stream fails the build
	out := req.Stdout
	if out == nil {
		out = io.Discard
	}
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, 0, false, nil); err != nil {
		var jerr *jsonmessage.JSONError
		if errors.As(err, &jerr) {
			return fmt.Errorf("image build failed: %s", jerr.Message)
		}
		return fmt.Errorf("failed to read build output: %w", err)
	}

	// 4. Confirm the tag exists
	inspect, _, err := b.cli.ImageInspectWithRaw(ctx, name)
	if err != nil {
		return fmt.Errorf("built image %s not found: %w", name, err)
	}
	b.logger.Debug("image built", "image", name, "id", inspect.ID)
	return nil
}
