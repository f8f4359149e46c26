package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_predictor_pipeline_runs_total",
			Help: "Total pipeline runs by outcome",
		},
		[]string{"status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "price_predictor_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	RowsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "price_predictor_rows_dropped_total",
			Help: "Rows dropped during preprocessing because of missing values",
		},
	)

	RowsUsed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "price_predictor_rows_used",
			Help:    "Rows used for modeling per run",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000},
		},
	)

	LastRMSE = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "price_predictor_last_rmse",
			Help: "Held-out RMSE of the most recent successful run",
		},
	)

	LastR2 = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "price_predictor_last_r2",
			Help: "Held-out R² of the most recent successful run",
		},
	)

	Uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_predictor_uploads_total",
			Help: "Total uploads by outcome",
		},
		[]string{"outcome"},
	)

	Inferences = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_predictor_inference_requests_total",
			Help: "Total single-record inference requests by outcome",
		},
		[]string{"outcome"},
	)

	SessionFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "price_predictor_session_store_fallbacks_total",
			Help: "Session operations served by the in-memory fallback store",
		},
	)

	RunsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_predictor_runs_recorded_total",
			Help: "Run history writes by outcome",
		},
		[]string{"status"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(PipelineRuns)
		prometheus.MustRegister(StageDuration)
		prometheus.MustRegister(RowsDropped)
		prometheus.MustRegister(RowsUsed)
		prometheus.MustRegister(LastRMSE)
		prometheus.MustRegister(LastR2)
		prometheus.MustRegister(Uploads)
		prometheus.MustRegister(Inferences)
		prometheus.MustRegister(SessionFallbacks)
		prometheus.MustRegister(RunsRecorded)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
