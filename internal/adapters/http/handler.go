package http

import (
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/imgbuild/internal/core/domain"
	"github.com/melih/imgbuild/internal/core/ports"
)

// BuildHandler exposes the build pipeline to external automation.
// Only one build runs at a time; overlapping requests are rejected.
type BuildHandler struct {
	runner ports.BuildRunner

	running sync.Mutex

	mu      sync.RWMutex
	last    *domain.BuildResult
	lastErr *BuildFailure
}

func NewBuildHandler(runner ports.BuildRunner) *BuildHandler {
	return &BuildHandler{runner: runner}
}

// Routes registers the handler's endpoints on router.
func (h *BuildHandler) Routes(router fiber.Router) {
	builds := router.Group("/builds")
	builds.Post("/", h.StartBuild)
	builds.Get("/last", h.LastBuild)
}

type StartBuildRequest struct {
	Mode string `json:"mode"`
}

// BuildFailure is the error body of a failed build.
type BuildFailure struct {
	Error    string `json:"error"`
	Step     string `json:"step,omitempty"`
	ExitCode int    `json:"exit_code"`
}

func (h *BuildHandler) StartBuild(c *fiber.Ctx) error {
	var req StartBuildRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(failure(err))
	}

	if !h.running.TryLock() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "a build is already running",
		})
	}
	defer h.running.Unlock()

	result, err := h.runner.Run(c.UserContext(), mode)

	h.mu.Lock()
	if err != nil {
		h.last, h.lastErr = nil, failure(err)
	} else {
		h.last, h.lastErr = result, nil
	}
	h.mu.Unlock()

	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, domain.ErrLocked) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(failure(err))
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *BuildHandler) LastBuild(c *fiber.Ctx) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	switch {
	case h.last != nil:
		return c.JSON(h.last)
	case h.lastErr != nil:
		return c.Status(fiber.StatusOK).JSON(h.lastErr)
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "no build has run yet",
	})
}

func failure(err error) *BuildFailure {
	f := &BuildFailure{Error: err.Error(), ExitCode: domain.ExitCode(err)}
	var se *domain.StepError
	if errors.As(err, &se) {
		f.Step = se.Step
		f.Error = se.Err.Error()
	}
	return f
}
