package handlers

import (
	"math"

	"github.com/gofiber/fiber/v2"

	"github.com/estate-predictor/backend/internal/prediction"
	"github.com/estate-predictor/backend/internal/session"
)

type PredictHandler struct {
	models        *session.Registry
	sessions      Sessions
	referenceYear int
}

func NewPredictHandler(models *session.Registry, sessions Sessions, referenceYear int) *PredictHandler {
	return &PredictHandler{models: models, sessions: sessions, referenceYear: referenceYear}
}

func (h *PredictHandler) Predict(c *fiber.Ctx) error {
	var in prediction.Input
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	id, ok := h.sessions.Existing(c)
	if !ok {
		return noResult(c)
	}
	trained, ok := h.models.Get(id)
	if !ok {
		return noResult(c)
	}

	price, err := prediction.Predict(trained, in, h.referenceYear)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(fiber.Map{
		"price":           math.Round(price),
		"input":           in,
		"reference_year":  h.referenceYear,
		"columns_version": trained.Columns.Version,
	})
}
