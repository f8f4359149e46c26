// Package storage records pipeline run history.
package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/estate-predictor/backend/internal/failure"
	"github.com/estate-predictor/backend/internal/metrics"
	"github.com/estate-predictor/backend/internal/prediction"
	"github.com/estate-predictor/backend/internal/storage/models"
	"github.com/estate-predictor/backend/internal/storage/postgres"
	"github.com/estate-predictor/backend/internal/storage/sqlite"
	"github.com/estate-predictor/backend/pkg/config"
	"github.com/estate-predictor/backend/pkg/logger"
	"github.com/estate-predictor/backend/pkg/retry"
)

// RunStore is implemented by the SQLite and Postgres clients.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the run store named by cfg.Driver, retrying the connection
// with rc. Driver "none" disables history.
func Open(ctx context.Context, cfg config.StorageConfig, rc retry.Config) (RunStore, error) {
	switch cfg.Driver {
	case "none":
		return NopStore{}, nil
	case "sqlite":
		return sqlite.NewClient(cfg.SQLite.Path)
	case "postgres":
		return retry.DoWithResult(ctx, rc, func() (*postgres.Client, error) {
			return postgres.Open(ctx, cfg.Postgres.DSN)
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NopStore discards runs.
type NopStore struct{}

func (NopStore) SaveRun(context.Context, *models.Run) error { return nil }
func (NopStore) GetRun(context.Context, string) (*models.Run, error) {
	return nil, models.ErrRunNotFound
}
func (NopStore) ListRuns(context.Context, int) ([]models.Run, error) { return nil, nil }
func (NopStore) Ping(context.Context) error                          { return nil }
func (NopStore) Close() error                                        { return nil }

// SucceededRun summarizes a finished run.
func SucceededRun(r *prediction.Result) *models.Run {
	return &models.Run{
		ID:             r.RunID,
		Source:         r.Source,
		Status:         models.RunSucceeded,
		RMSE:           r.RMSE,
		R2:             r.R2,
		RowsLoaded:     r.Rows.Loaded,
		RowsDropped:    r.Rows.Dropped,
		RowsUsed:       r.Rows.Used,
		Wards:          len(r.WardPredictions),
		ColumnsVersion: r.ColumnsVersion,
		ReferenceYear:  r.ReferenceYear,
		DurationMS:     r.Duration.Milliseconds(),
		CreatedAt:      r.CreatedAt,
	}
}

// FailedRun summarizes a run that stopped with err.
func FailedRun(id, source string, referenceYear int, elapsed time.Duration, err error) *models.Run {
	kind := string(failure.KindOf(err))
	if kind == "" {
		kind = "internal"
	}
	return &models.Run{
		ID:            id,
		Source:        source,
		Status:        models.RunFailed,
		ErrorKind:     kind,
		ErrorMessage:  err.Error(),
		ReferenceYear: referenceYear,
		DurationMS:    elapsed.Milliseconds(),
		CreatedAt:     time.Now().UTC(),
	}
}

// Record saves run. A failed write is logged and counted, not returned.
func Record(ctx context.Context, store RunStore, run *models.Run) {
	if store == nil {
		return
	}
	status := "success"
	if err := store.SaveRun(ctx, run); err != nil {
		status = "error"
		logger.Warn("Failed to record run", zap.String("run_id", run.ID), zap.Error(err))
	}
	metrics.RunsRecorded.WithLabelValues(status).Inc()
}
