package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"shakeskip/internal/ipc"
	"shakeskip/internal/skip"
)

// newAPI builds the REST control app.
func newAPI(ctl *Control, logRequests bool) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          apiErrorHandler,
	})
	app.Use(recover.New())
	if logRequests {
		app.Use(fiberlogger.New())
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	registerRoutes(app.Group("/api"), ctl)
	return app
}

func registerRoutes(r fiber.Router, ctl *Control) {
	r.Get("/state", func(c *fiber.Ctx) error {
		return c.JSON(ctl.Status())
	})

	r.Get("/settings", func(c *fiber.Ctx) error {
		s, err := ctl.Settings(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(s)
	})

	r.Put("/settings", func(c *fiber.Ctx) error {
		var patch ipc.SetSettings
		if err := c.BodyParser(&patch); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		s, err := ctl.UpdateSettings(c.UserContext(), patch)
		if err != nil {
			return err
		}
		return c.JSON(s)
	})

	r.Post("/skip", func(c *fiber.Ctx) error {
		if err := ctl.TriggerSkip(); err != nil {
			return err
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
	})

	r.Delete("/skip", func(c *fiber.Ctx) error {
		if err := ctl.StopSkip(c.UserContext()); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Put("/volume", func(c *fiber.Ctx) error {
		var body struct {
			Volume *float64 `json:"volume"`
		}
		if err := c.BodyParser(&body); err != nil || body.Volume == nil {
			return fiber.NewError(fiber.StatusBadRequest, "volume required")
		}
		if err := ctl.SetVolume(c.UserContext(), *body.Volume); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"volume": *body.Volume})
	})

	transportRoutes := r.Group("/transport")
	transportRoutes.Post("/toggle", func(c *fiber.Ctx) error {
		if err := ctl.TogglePlayPause(c.UserContext()); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
	transportRoutes.Post("/next", func(c *fiber.Ctx) error {
		if err := ctl.Next(c.UserContext()); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
	transportRoutes.Post("/previous", func(c *fiber.Ctx) error {
		if err := ctl.Previous(c.UserContext()); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/shake/reset-count", func(c *fiber.Ctx) error {
		ctl.ResetCount()
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// apiErrorHandler maps domain errors onto status codes.
func apiErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, errInvalidArgument):
		code = fiber.StatusBadRequest
	case errors.Is(err, errBusy):
		code = fiber.StatusTooManyRequests
	case errors.Is(err, skip.ErrStopped):
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// runAPI serves app on addr until ctx is canceled.
func runAPI(ctx context.Context, app *fiber.App, addr string, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening", "addr", addr)
		errCh <- app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			return fmt.Errorf("API shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	}
}
