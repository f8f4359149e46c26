package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/estate-predictor/backend/internal/storage/models"
	"github.com/estate-predictor/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	c := &Client{db: db}
	if err := c.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))
	return c, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		error_kind TEXT,
		error_message TEXT,
		rmse REAL,
		r2 REAL,
		rows_loaded INTEGER,
		rows_dropped INTEGER,
		rows_used INTEGER,
		wards INTEGER,
		columns_version TEXT,
		reference_year INTEGER,
		duration_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON pipeline_runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON pipeline_runs(status);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

const runColumns = `id, source, status, error_kind, error_message, rmse, r2, rows_loaded, rows_dropped,
	rows_used, wards, columns_version, reference_year, duration_ms, created_at`

func (c *Client) SaveRun(ctx context.Context, run *models.Run) error {
	query := `INSERT INTO pipeline_runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		run.ID,
		run.Source,
		run.Status,
		run.ErrorKind,
		run.ErrorMessage,
		run.RMSE,
		run.R2,
		run.RowsLoaded,
		run.RowsDropped,
		run.RowsUsed,
		run.Wards,
		run.ColumnsVersion,
		run.ReferenceYear,
		run.DurationMS,
		run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	logger.Debug("Run recorded", zap.String("run_id", run.ID), zap.String("status", run.Status))
	return nil
}

func (c *Client) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.Run, error) {
	var (
		run                     models.Run
		errorKind, errorMessage sql.NullString
		columnsVersion          sql.NullString
		createdAt               int64
	)
	err := s.Scan(
		&run.ID,
		&run.Source,
		&run.Status,
		&errorKind,
		&errorMessage,
		&run.RMSE,
		&run.R2,
		&run.RowsLoaded,
		&run.RowsDropped,
		&run.RowsUsed,
		&run.Wards,
		&columnsVersion,
		&run.ReferenceYear,
		&run.DurationMS,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	run.ErrorKind = errorKind.String
	run.ErrorMessage = errorMessage.String
	run.ColumnsVersion = columnsVersion.String
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &run, nil
}
