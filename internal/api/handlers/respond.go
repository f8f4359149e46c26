package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/estate-predictor/backend/internal/failure"
	"github.com/estate-predictor/backend/internal/session"
)

const msgNoResult = "No prediction result. Upload a CSV first."

// statusFor maps a pipeline error to an HTTP status by its failure kind.
func statusFor(err error) int {
	switch failure.KindOf(err) {
	case failure.KindIO, failure.KindEmptyInput, failure.KindEncoding, failure.KindSchema, failure.KindValue:
		return fiber.StatusBadRequest
	case failure.KindConfiguration:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

func errorJSON(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	body := fiber.Map{"error": err.Error()}
	if status == fiber.StatusInternalServerError {
		body["error"] = "Prediction failed"
	}

	var ferr *failure.Error
	if errors.As(err, &ferr) {
		body["kind"] = ferr.Kind
		if len(ferr.Missing) > 0 {
			body["missing"] = ferr.Missing
		}
	}
	return c.Status(status).JSON(body)
}

func noResult(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": msgNoResult})
}

// Sessions identifies the browser session by cookie, issuing one when the
// request carries none.
type Sessions struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// cookie copies the session cookie out of the request buffer, which fasthttp
// reuses once the handler returns. Ids outlive the request as map keys.
func (s Sessions) cookie(c *fiber.Ctx) string {
	return utils.CopyString(c.Cookies(s.CookieName))
}

func (s Sessions) ID(c *fiber.Ctx) string {
	if id := s.cookie(c); id != "" {
		return id
	}
	id := session.NewID()
	cookie := &fiber.Cookie{
		Name:     s.CookieName,
		Value:    id,
		Path:     "/",
		HTTPOnly: true,
		Secure:   s.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
	if s.TTL > 0 {
		cookie.Expires = time.Now().Add(s.TTL)
	}
	c.Cookie(cookie)
	return id
}

// Existing returns the session id only when the request already has one.
func (s Sessions) Existing(c *fiber.Ctx) (string, bool) {
	id := s.cookie(c)
	return id, id != ""
}
