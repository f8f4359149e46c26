package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/estate-predictor/backend/internal/storage/models"
	"github.com/estate-predictor/backend/pkg/logger"
)

// Client persists run history to PostgreSQL.
type Client struct {
	db *sql.DB
}

// Open connects to dsn and migrates the schema. The caller retries on
// failure.
func Open(ctx context.Context, dsn string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	c := New(db)
	if err := c.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Postgres client initialized")
	return c, nil
}

func New(db *sql.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id              TEXT             PRIMARY KEY,
			source          TEXT             NOT NULL,
			status          VARCHAR(16)      NOT NULL,
			error_kind      VARCHAR(32)      NOT NULL DEFAULT '',
			error_message   TEXT             NOT NULL DEFAULT '',
			rmse            DOUBLE PRECISION NOT NULL DEFAULT 0,
			r2              DOUBLE PRECISION NOT NULL DEFAULT 0,
			rows_loaded     INTEGER          NOT NULL DEFAULT 0,
			rows_dropped    INTEGER          NOT NULL DEFAULT 0,
			rows_used       INTEGER          NOT NULL DEFAULT 0,
			wards           INTEGER          NOT NULL DEFAULT 0,
			columns_version VARCHAR(32)      NOT NULL DEFAULT '',
			reference_year  INTEGER          NOT NULL DEFAULT 0,
			duration_ms     BIGINT           NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ      NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_runs_created ON pipeline_runs(created_at);
	`)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) SaveRun(ctx context.Context, run *models.Run) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, source, status, error_kind, error_message, rmse, r2,
			rows_loaded, rows_dropped, rows_used, wards, columns_version, reference_year,
			duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		run.ID, run.Source, run.Status, run.ErrorKind, run.ErrorMessage, run.RMSE, run.R2,
		run.RowsLoaded, run.RowsDropped, run.RowsUsed, run.Wards, run.ColumnsVersion,
		run.ReferenceYear, run.DurationMS, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert run: %w", err)
	}

	logger.Debug("Run recorded", zap.String("run_id", run.ID), zap.String("status", run.Status))
	return nil
}

const selectRun = `
	SELECT id, source, status, error_kind, error_message, rmse, r2, rows_loaded, rows_dropped,
		rows_used, wards, columns_version, reference_year, duration_ms, created_at
	FROM pipeline_runs`

func (c *Client) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := c.db.QueryRowContext(ctx, selectRun+` WHERE id = $1`, id)
	run := &models.Run{}
	if err := scan(row, run); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrRunNotFound
		}
		return nil, fmt.Errorf("postgres: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := c.db.QueryContext(ctx, selectRun+` ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var run models.Run
		if err := scan(rows, &run); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner, run *models.Run) error {
	return s.Scan(
		&run.ID, &run.Source, &run.Status, &run.ErrorKind, &run.ErrorMessage,
		&run.RMSE, &run.R2, &run.RowsLoaded, &run.RowsDropped, &run.RowsUsed,
		&run.Wards, &run.ColumnsVersion, &run.ReferenceYear, &run.DurationMS, &run.CreatedAt,
	)
}
