package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/estate-predictor/backend/internal/failure"
	"github.com/estate-predictor/backend/internal/metrics"
	"github.com/estate-predictor/backend/internal/prediction"
	"github.com/estate-predictor/backend/internal/session"
	"github.com/estate-predictor/backend/internal/storage"
	"github.com/estate-predictor/backend/internal/upload"
	"github.com/estate-predictor/backend/pkg/logger"
)

// Pipeline is the prediction run an upload triggers.
type Pipeline interface {
	Run(path string) (*prediction.Outcome, error)
	ReferenceYear() int
}

type UploadHandler struct {
	uploads  *upload.Store
	pipeline Pipeline
	results  session.Store
	models   *session.Registry
	runs     storage.RunStore
	sessions Sessions
}

func NewUploadHandler(uploads *upload.Store, pipeline Pipeline, results session.Store,
	models *session.Registry, runs storage.RunStore, sessions Sessions) *UploadHandler {
	return &UploadHandler{
		uploads:  uploads,
		pipeline: pipeline,
		results:  results,
		models:   models,
		runs:     runs,
		sessions: sessions,
	}
}

// Upload validates and stores the file, then runs the pipeline on it. The
// session's previous result is cleared before the run starts.
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := h.sessions.ID(c)

	fh, err := c.FormFile("file")
	if err != nil {
		fh = nil
	}
	if err := h.uploads.Validate(fh); err != nil {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": uploadMessage(err)})
	}

	if err := h.results.Clear(ctx, id); err != nil {
		logger.Warn("Failed to clear session result", zap.Error(err))
	}
	h.models.Delete(id)

	path, err := h.uploads.SaveMultipart(fh)
	if err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		logger.Error("Failed to save upload", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save file"})
	}
	if _, err := h.uploads.Cleanup(); err != nil {
		logger.Warn("Failed to clean up uploads", zap.Error(err))
	}

	start := time.Now()
	out, err := h.pipeline.Run(path)
	if err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		storage.Record(ctx, h.runs, storage.FailedRun(uuid.New().String(), fh.Filename,
			h.pipeline.ReferenceYear(), time.Since(start), err))
		return errorJSON(c, err)
	}
	out.Result.Source = fh.Filename

	if err := h.results.Save(ctx, id, out.Result); err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		logger.Error("Failed to store session result", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to store result"})
	}
	h.models.Put(id, out.Model)
	storage.Record(ctx, h.runs, storage.SucceededRun(out.Result))
	metrics.Uploads.WithLabelValues("success").Inc()

	return c.JSON(overview(out.Result))
}

func uploadMessage(err error) string {
	switch {
	case errors.Is(err, upload.ErrNoFile):
		return "No file selected"
	case errors.Is(err, upload.ErrEmptyFilename):
		return "File name is empty"
	case errors.Is(err, upload.ErrExtensionNotAllowed):
		return "Only CSV files can be uploaded"
	case errors.Is(err, failure.ErrValue):
		return err.Error()
	default:
		return "Invalid upload"
	}
}
