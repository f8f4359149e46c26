package handlers

import "github.com/gofiber/fiber/v2"

type Routes struct {
	Upload  *UploadHandler
	Results *ResultHandler
	Predict *PredictHandler
	Runs    *RunsHandler
	Health  *HealthHandler
	// UploadLimit guards the upload route when set.
	UploadLimit fiber.Handler
}

// Register mounts the API under api, normally the /api/v1 group.
func (r Routes) Register(api fiber.Router) {
	if r.UploadLimit != nil {
		api.Post("/upload", r.UploadLimit, r.Upload.Upload)
	} else {
		api.Post("/upload", r.Upload.Upload)
	}

	results := api.Group("/results")
	results.Get("/overview", r.Results.Overview)
	results.Get("/by-ward", r.Results.ByWard)
	results.Get("/by-era", r.Results.ByEra)
	results.Get("/graphs", r.Results.Graphs)
	results.Get("/export", r.Results.Export)

	api.Post("/predict", r.Predict.Predict)

	api.Get("/runs", r.Runs.List)
	api.Get("/runs/:id", r.Runs.Get)

	api.Get("/health", r.Health.Health)
	api.Get("/ready", r.Health.Ready)
}
