package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"

	"github.com/estate-predictor/backend/internal/dataset"
	"github.com/estate-predictor/backend/internal/export"
	"github.com/estate-predictor/backend/internal/model"
	"github.com/estate-predictor/backend/internal/prediction"
	"github.com/estate-predictor/backend/internal/session"
	"github.com/estate-predictor/backend/internal/storage/sqlite"
	"github.com/estate-predictor/backend/internal/upload"
)

const cookieName = "predictor_session"

type testServer struct {
	app *fiber.App
	dir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	svc, err := prediction.NewService(prediction.Config{
		Encoding:      "shift_jis",
		ReferenceYear: 2025,
		TestSize:      0.2,
		Forest:        model.ForestConfig{Trees: 5, Seed: 42},
		ScatterPath:   filepath.Join(dir, "static", "result.png"),
		TrendPath:     filepath.Join(dir, "static", "yearly_trend.png"),
		WardChartPath: filepath.Join(dir, "static", "ward_comparison.png"),
	})
	require.NoError(t, err)

	runs, err := sqlite.NewClient(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	sessions := Sessions{CookieName: cookieName, TTL: time.Hour}
	results := session.NewMemoryStore(time.Hour)
	t.Cleanup(results.Stop)
	registry := session.NewRegistry(time.Hour)
	t.Cleanup(registry.Stop)

	app := fiber.New()
	Routes{
		Upload:  NewUploadHandler(upload.NewStore(filepath.Join(dir, "input"), 10, []string{"csv"}), svc, results, registry, runs, sessions),
		Results: NewResultHandler(results, sessions, "/static"),
		Predict: NewPredictHandler(registry, sessions, 2025),
		Runs:    NewRunsHandler(runs),
		Health:  NewHealthHandler(map[string]Pinger{"runs": runs}),
	}.Register(app.Group("/api/v1"))

	return &testServer{app: app, dir: dir}
}

func transactionsCSV(t *testing.T, n int) []byte {
	t.Helper()
	wards := []string{"千代田区", "中央区", "港区"}
	lines := []string{strings.Join(dataset.RequiredColumns, ",")}
	for i := 0; i < n; i++ {
		area := 30 + (i*7)%60
		built := 1990 + (i*3)%33
		price := area*700_000 + (built-1980)*300_000 + (i%3)*4_000_000
		lines = append(lines, fmt.Sprintf("%d,%d,%d分,%d年,%s,%d年第%d四半期",
			price, area, 1+i%15, built, wards[i%3], 2019+i%5, 1+i%4))
	}
	out, err := japanese.ShiftJIS.NewEncoder().String(strings.Join(lines, "\r\n") + "\r\n")
	require.NoError(t, err)
	return []byte(out)
}

func uploadRequest(t *testing.T, filename string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (s *testServer) do(t *testing.T, req *http.Request, cookie *http.Cookie) (*http.Response, map[string]any) {
	t.Helper()
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &body))
	}
	return resp, body
}

func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func TestResultsBeforeUpload(t *testing.T) {
	s := newTestServer(t)
	for _, p := range []string{"overview", "by-ward", "by-era", "graphs", "export"} {
		resp, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/results/"+p, nil), nil)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode, p)
		assert.Equal(t, msgNoResult, body["error"], p)
	}
}

func TestUploadRejections(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, uploadRequest(t, "", nil), nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No file selected", body["error"])

	resp, body = s.do(t, uploadRequest(t, "data.xlsx", []byte("x")), nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Only CSV files can be uploaded", body["error"])
}

func TestUploadSchemaErrorIsRecorded(t *testing.T) {
	s := newTestServer(t)

	bad, err := japanese.ShiftJIS.NewEncoder().String("取引価格（総額）,面積（㎡）\r\n1,2\r\n")
	require.NoError(t, err)

	resp, body := s.do(t, uploadRequest(t, "bad.csv", []byte(bad)), nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "schema", body["kind"])
	assert.Len(t, body["missing"], 4)

	resp, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	runs := body["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, "error", runs[0].(map[string]any)["status"])
	assert.Equal(t, "schema", runs[0].(map[string]any)["error_kind"])
}

func TestUploadThenResults(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, uploadRequest(t, "tokyo.csv", transactionsCSV(t, 60)), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)
	cookie := sessionCookie(t, resp)
	assert.Equal(t, "tokyo.csv", body["source"])
	assert.Contains(t, body, "rmse")
	assert.Contains(t, body, "r2")

	resp, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/results/by-ward", nil), cookie)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["predictions"], 3)
	assert.Len(t, body["wards"], 3)

	resp, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/results/by-era", nil), cookie)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	for ward, brackets := range body["wards"].(map[string]any) {
		assert.Len(t, brackets, len(dataset.Brackets), ward)
	}

	resp, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/results/graphs", nil), cookie)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(body["scatter"].(string), "/static/result.png?v="))

	resp, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/results/export", nil), cookie)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, export.ContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")

	// Another browser session sees nothing.
	resp, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/results/overview", nil), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=5", nil), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	runs := body["runs"].([]any)
	require.Len(t, runs, 1)
	runID := runs[0].(map[string]any)["id"].(string)

	resp, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+runID, nil), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
}

func TestSessionsDoNotShareResults(t *testing.T) {
	s := newTestServer(t)
	a := &http.Cookie{Name: cookieName, Value: "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"}
	b := &http.Cookie{Name: cookieName, Value: "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"}

	resp, body := s.do(t, uploadRequest(t, "tokyo.csv", transactionsCSV(t, 60)), a)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)
	runID := body["run_id"]
	require.NotEmpty(t, runID)

	// Later requests reuse the request buffers the ids were read from.
	resp, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/results/overview", nil), b)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode, body)
	assert.Equal(t, msgNoResult, body["error"])

	resp, body = s.do(t, predictRequest(`{"area": 60, "age": 10, "distance": 5, "ward": "港区"}`), b)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode, body)

	resp, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/results/overview", nil), a)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, body)
	assert.Equal(t, runID, body["run_id"])

	resp, _ = s.do(t, predictRequest(`{"area": 60, "age": 10, "distance": 5, "ward": "港区"}`), a)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func predictRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestPredict(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, predictRequest(`{"area": 60, "age": 10, "distance": 5, "ward": "港区"}`), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, msgNoResult, body["error"])

	resp, _ = s.do(t, uploadRequest(t, "tokyo.csv", transactionsCSV(t, 60)), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	cookie := sessionCookie(t, resp)

	resp, body = s.do(t, predictRequest(`{"area": 60, "age": 10, "distance": 5, "ward": "港区"}`), cookie)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Greater(t, body["price"].(float64), 0.0)

	resp, body = s.do(t, predictRequest(`{"area": 60, "age": 10, "distance": 5, "ward": "新宿区"}`), cookie)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "value", body["kind"])

	resp, _ = s.do(t, predictRequest(`{"area": 0, "age": 10, "distance": 5, "ward": "港区"}`), cookie)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRunsLimitValidation(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=0", nil), nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/runs/unknown", nil), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil), nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil), nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}

func TestStatusForKinds(t *testing.T) {
	assert.Equal(t, fiber.StatusInternalServerError, statusFor(fmt.Errorf("plain")))
}
