package handlers

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/estate-predictor/backend/internal/dataset"
	"github.com/estate-predictor/backend/internal/export"
	"github.com/estate-predictor/backend/internal/prediction"
	"github.com/estate-predictor/backend/internal/session"
	"github.com/estate-predictor/backend/pkg/logger"
)

// ResultHandler serves read-only views of the session's latest result.
type ResultHandler struct {
	results    session.Store
	sessions   Sessions
	staticPath string
}

func NewResultHandler(results session.Store, sessions Sessions, staticPath string) *ResultHandler {
	return &ResultHandler{results: results, sessions: sessions, staticPath: staticPath}
}

func (h *ResultHandler) load(c *fiber.Ctx) (*prediction.Result, error) {
	id, ok := h.sessions.Existing(c)
	if !ok {
		return nil, session.ErrNotFound
	}
	return h.results.Load(c.UserContext(), id)
}

// withResult answers 404 when the session has no result yet.
func (h *ResultHandler) withResult(c *fiber.Ctx, fn func(*prediction.Result) error) error {
	result, err := h.load(c)
	if errors.Is(err, session.ErrNotFound) {
		return noResult(c)
	}
	if err != nil {
		logger.Error("Failed to load session result", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load result"})
	}
	return fn(result)
}

func overview(r *prediction.Result) fiber.Map {
	return fiber.Map{
		"run_id":          r.RunID,
		"source":          r.Source,
		"rmse":            r.RMSE,
		"r2":              r.R2,
		"metrics":         r.Metrics,
		"rows":            r.Rows,
		"columns_version": r.ColumnsVersion,
		"created_at":      r.CreatedAt,
	}
}

func (h *ResultHandler) Overview(c *fiber.Ctx) error {
	return h.withResult(c, func(r *prediction.Result) error {
		return c.JSON(overview(r))
	})
}

func (h *ResultHandler) ByWard(c *fiber.Ctx) error {
	return h.withResult(c, func(r *prediction.Result) error {
		return c.JSON(fiber.Map{
			"wards":       r.WardRows(),
			"predictions": r.WardPredictions,
			"actuals":     r.WardActuals,
			"yearly":      r.YearlyMeans,
		})
	})
}

func (h *ResultHandler) ByEra(c *fiber.Ctx) error {
	return h.withResult(c, func(r *prediction.Result) error {
		return c.JSON(fiber.Map{
			"brackets": dataset.Brackets,
			"wards":    r.WardEraPredictions,
		})
	})
}

func (h *ResultHandler) Graphs(c *fiber.Ctx) error {
	return h.withResult(c, func(r *prediction.Result) error {
		return c.JSON(fiber.Map{
			"scatter":         h.chartURL(r.ScatterPath, r.RunID),
			"yearly_trend":    h.chartURL(r.TrendPath, r.RunID),
			"ward_comparison": h.chartURL(r.WardChartPath, r.RunID),
		})
	})
}

// chartURL points at the shared chart file; the run id defeats browser
// caching between runs.
func (h *ResultHandler) chartURL(file, runID string) string {
	return fmt.Sprintf("%s?v=%s", path.Join(h.staticPath, filepath.Base(file)), runID)
}

func (h *ResultHandler) Export(c *fiber.Ctx) error {
	return h.withResult(c, func(r *prediction.Result) error {
		data, err := export.Workbook(r)
		if err != nil {
			logger.Error("Failed to build workbook", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to export result"})
		}
		c.Set(fiber.HeaderContentType, export.ContentType)
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="prediction_%s.xlsx"`, r.RunID))
		return c.Send(data)
	})
}
