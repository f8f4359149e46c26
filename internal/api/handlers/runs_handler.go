package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/estate-predictor/backend/internal/storage"
	"github.com/estate-predictor/backend/internal/storage/models"
	"github.com/estate-predictor/backend/pkg/logger"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

type RunsHandler struct {
	runs storage.RunStore
}

func NewRunsHandler(runs storage.RunStore) *RunsHandler {
	return &RunsHandler{runs: runs}
}

func (h *RunsHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultRunLimit)
	if limit < 1 || limit > maxRunLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 100",
		})
	}

	runs, err := h.runs.ListRuns(c.UserContext(), limit)
	if err != nil {
		logger.Error("Failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list runs"})
	}
	if runs == nil {
		runs = []models.Run{}
	}
	return c.JSON(fiber.Map{"runs": runs})
}

func (h *RunsHandler) Get(c *fiber.Ctx) error {
	run, err := h.runs.GetRun(c.UserContext(), c.Params("id"))
	if errors.Is(err, models.ErrRunNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Run not found"})
	}
	if err != nil {
		logger.Error("Failed to get run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to get run"})
	}
	return c.JSON(run)
}
