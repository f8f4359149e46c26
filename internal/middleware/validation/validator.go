package validation

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	// MaxJSONBytes bounds JSON request bodies; uploads are bounded by the
	// server body limit instead.
	MaxJSONBytes        int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects POST and PUT requests whose content type is not
// allowed, and JSON bodies that are too large or malformed.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxJSONBytes == 0 {
		cfg.MaxJSONBytes = 64 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON, fiber.MIMEMultipartForm}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := strings.ToLower(c.Get(fiber.HeaderContentType))
		if !allowed(contentType, cfg.AllowedContentTypes) {
			cfg.Logger.Debug("Unsupported content type",
				zap.String("content_type", contentType),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		if strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) {
			body := c.Body()
			if len(body) > cfg.MaxJSONBytes {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Request body is too large",
				})
			}
			if !json.Valid(body) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}
		}

		return c.Next()
	}
}

func allowed(contentType string, types []string) bool {
	for _, t := range types {
		if strings.HasPrefix(contentType, t) {
			return true
		}
	}
	return false
}
