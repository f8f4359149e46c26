package models

import (
	"errors"
	"time"
)

var ErrRunNotFound = errors.New("run not found")

const (
	RunSucceeded = "success"
	RunFailed    = "error"
)

// Run is one row of pipeline run history. Metric fields are zero for failed
// runs.
type Run struct {
	ID             string    `json:"id" yaml:"id"`
	Source         string    `json:"source" yaml:"source"`
	Status         string    `json:"status" yaml:"status"`
	ErrorKind      string    `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	RMSE           float64   `json:"rmse" yaml:"rmse"`
	R2             float64   `json:"r2" yaml:"r2"`
	RowsLoaded     int       `json:"rows_loaded" yaml:"rows_loaded"`
	RowsDropped    int       `json:"rows_dropped" yaml:"rows_dropped"`
	RowsUsed       int       `json:"rows_used" yaml:"rows_used"`
	Wards          int       `json:"wards" yaml:"wards"`
	ColumnsVersion string    `json:"columns_version,omitempty" yaml:"columns_version,omitempty"`
	ReferenceYear  int       `json:"reference_year" yaml:"reference_year"`
	DurationMS     int64     `json:"duration_ms" yaml:"duration_ms"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
}
