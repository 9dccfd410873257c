package http

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// NewServer builds the fiber app serving the build trigger API.
// Handlers see ctx as their user context, so cancelling it stops running builds.
func NewServer(ctx context.Context, builds *BuildHandler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "imgbuild",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(ctx)
		return c.Next()
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	v1 := app.Group("/api").Group("/v1")
	builds.Routes(v1)
	return app
}
