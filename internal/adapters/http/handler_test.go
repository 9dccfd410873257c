package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/imgbuild/internal/core/domain"
)

type stubRunner struct {
	result  *domain.BuildResult
	err     error
	modes   []domain.Mode
	started chan struct{}
	release chan struct{}
}

func (s *stubRunner) Run(_ context.Context, mode domain.Mode) (*domain.BuildResult, error) {
	s.modes = append(s.modes, mode)
	if s.started != nil {
		close(s.started)
		<-s.release
	}
	return s.result, s.err
}

func post(t *testing.T, app *fiber.App, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/builds/", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decode(t, resp.Body)
}

func get(t *testing.T, app *fiber.App, path string) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decode(t, resp.Body)
}

func decode(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return out
}

func TestStartBuild(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{result: &domain.BuildResult{
		Mode:      domain.ModeDev,
		Image:     domain.ImageName{Repository: "app_server_name", Tag: "dev_abc1234_24.01.15.1030"},
		Revision:  "abc1234",
		Timestamp: "24.01.15.1030",
	}}
	app := NewServer(context.Background(), NewBuildHandler(runner))

	status, body := get(t, app, "/api/v1/builds/last")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.NotEmpty(t, body["error"])

	status, body = post(t, app, `{"mode":"dev"}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "abc1234", body["revision"])
	assert.Equal(t, []domain.Mode{domain.ModeDev}, runner.modes)

	status, body = get(t, app, "/api/v1/builds/last")
	assert.Equal(t, fiber.StatusOK, status)
	image, ok := body["image"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "dev_abc1234_24.01.15.1030", image["tag"])
}

func TestStartBuildInvalidMode(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	app := NewServer(context.Background(), NewBuildHandler(runner))

	status, body := post(t, app, `{"mode":"qa"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body["error"], `"qa"`)
	assert.Empty(t, runner.modes)

	status, _ = post(t, app, `not json`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestStartBuildFailure(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{err: domain.NewStepError(domain.StepStage, fmt.Errorf("%w: app", domain.ErrSourceMissing))}
	app := NewServer(context.Background(), NewBuildHandler(runner))

	status, body := post(t, app, `{"mode":"prod"}`)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "stage", body["step"])
	assert.EqualValues(t, 1, body["exit_code"])

	status, body = get(t, app, "/api/v1/builds/last")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "stage", body["step"])
}

func TestStartBuildLockedElsewhere(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{err: domain.NewStepError(domain.StepLock, domain.ErrLocked)}
	app := NewServer(context.Background(), NewBuildHandler(runner))

	status, body := post(t, app, `{"mode":"dev"}`)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "lock", body["step"])
}

func TestStartBuildRejectsOverlap(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{
		result:  &domain.BuildResult{Mode: domain.ModeDev},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	app := NewServer(context.Background(), NewBuildHandler(runner))

	done := make(chan int)
	go func() {
		status, _ := post(t, app, `{"mode":"dev"}`)
		done <- status
	}()
	<-runner.started

	status, _ := post(t, app, `{"mode":"dev"}`)
	assert.Equal(t, fiber.StatusConflict, status)

	close(runner.release)
	assert.Equal(t, fiber.StatusCreated, <-done)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	app := NewServer(context.Background(), NewBuildHandler(&stubRunner{}))
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

type blockingRunner struct {
	started chan struct{}
	ctxErr  chan error
}

func (b *blockingRunner) Run(ctx context.Context, _ domain.Mode) (*domain.BuildResult, error) {
	close(b.started)
	<-ctx.Done()
	b.ctxErr <- ctx.Err()
	return nil, domain.NewStepError(domain.StepBuild, ctx.Err())
}

func TestStartBuildStopsWhenServerContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &blockingRunner{started: make(chan struct{}), ctxErr: make(chan error, 1)}
	app := NewServer(ctx, NewBuildHandler(runner))

	done := make(chan int)
	go func() {
		status, _ := post(t, app, `{"mode":"dev"}`)
		done <- status
	}()
	<-runner.started

	cancel()
	assert.ErrorIs(t, <-runner.ctxErr, context.Canceled)
	assert.Equal(t, fiber.StatusInternalServerError, <-done)
}
