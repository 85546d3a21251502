package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dynalloc/pkg/observability"
)

// setupMiddleware configures global middleware for the Fiber app
func setupMiddleware(app *fiber.App, log logrus.FieldLogger) {
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(requestid.New())
	app.Use(requestLogger(log))

	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
	}))
}

// requestLogger logs every request through logrus once the handler chain returns
func requestLogger(log logrus.FieldLogger) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status, _ = describeError(err)
		}

		entry := log.WithFields(logrus.Fields{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"latency":    time.Since(start),
			"request_id": requestid.FromContext(c),
		})

		if status >= fiber.StatusInternalServerError {
			entry.WithError(err).Warn("Request failed")
		} else {
			entry.Debug("Handled request")
		}

		return err
	}
}

// describeError maps a handler error to its status code and client message
func describeError(err error) (int, string) {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, fiberErr.Message
	}

	return fiber.StatusInternalServerError, "Internal Server Error"
}

// errorHandler provides consistent error responses
func errorHandler(c fiber.Ctx, err error) error {
	code, message := describeError(err)

	if code >= fiber.StatusInternalServerError {
		observability.RecordError("api", "internal_error")
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
