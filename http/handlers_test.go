package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"titanic/dataset"
	"titanic/db"
	"titanic/monitoring"
	"titanic/pipeline"
	"titanic/predictor"
	"titanic/scheduler"
)

func newTestHandlers(t *testing.T, store *db.Store) *Handlers {
	t.Helper()
	src, err := dataset.ParseSource(dataset.DefaultSource)
	if err != nil {
		t.Fatal(err)
	}
	metrics := monitoring.NewMetricsCollector()
	opts := predictor.Options{CacheSize: 16, Metrics: metrics}
	if store != nil {
		opts.Recorder = store
	}
	service := predictor.New(predictor.DatasetLoader(src, dataset.Options{}), opts)
	return NewHandlers(service, store, metrics, nil)
}

func newTestRouter(t *testing.T, store *db.Store) http.Handler {
	t.Helper()
	return newTestHandlers(t, store).Routes(DefaultServerConfig())
}

func TestHealthHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(handleHealth)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	expected := `{"status":"ok"}`
	if rr.Body.String() != expected+"\n" && rr.Body.String() != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestHandlePredict(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		status   int
		survived bool
	}{
		{name: "rich woman", method: http.MethodGet, target: "/api/predict?pclass=1&sex=Female&age=25&fare=100", status: http.StatusOK, survived: true},
		{name: "poor man", method: http.MethodGet, target: "/api/predict?pclass=3&sex=male&age=25&fare=10", status: http.StatusOK},
		{name: "defaults", method: http.MethodGet, target: "/api/predict", status: http.StatusOK},
		{name: "json body", method: http.MethodPost, target: "/api/predict", body: `{"pclass":1,"sex":"female","age":30,"fare":200}`, status: http.StatusOK, survived: true},
		{name: "bad class", method: http.MethodGet, target: "/api/predict?pclass=5", status: http.StatusBadRequest},
		{name: "bad number", method: http.MethodGet, target: "/api/predict?age=old", status: http.StatusBadRequest},
		{name: "unmapped sex", method: http.MethodGet, target: "/api/predict?sex=unknown", status: http.StatusBadRequest},
		{name: "fare too high", method: http.MethodPost, target: "/api/predict", body: `{"fare":501}`, status: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, target: "/api/predict", body: `{`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.status != http.StatusOK {
				var payload errorResponse
				if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil || payload.Error == "" {
					t.Fatalf("expected an error body, got %q", w.Body.String())
				}
				return
			}

			var prediction predictor.Prediction
			if err := json.Unmarshal(w.Body.Bytes(), &prediction); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if prediction.Survived != tt.survived {
				t.Errorf("expected survived=%v, got %+v", tt.survived, prediction)
			}
			if prediction.Probability < 0 || prediction.Probability > 100 || prediction.ModelID == "" {
				t.Errorf("unexpected prediction: %+v", prediction)
			}
		})
	}
}

func TestHandlePredictModelUnavailable(t *testing.T) {
	service := predictor.New(func(ctx context.Context) (*dataset.Result, error) {
		return nil, dataset.ErrSourceUnavailable
	}, predictor.Options{})
	router := NewHandlers(service, nil, nil, nil).Routes(DefaultServerConfig())

	for _, target := range []string{"/api/predict", "/api/stats", "/api/model"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", target, w.Code)
		}
	}
}

func TestHandleStatsAndModel(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats pipeline.SurvivalStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(stats.BySex) != 2 || stats.BySex[0].Label != "Female" || stats.BySex[0].Rate <= stats.BySex[1].Rate {
		t.Errorf("unexpected sex buckets: %+v", stats.BySex)
	}
	if stats.Policy != pipeline.PolicyBeforeCleaning {
		t.Errorf("unexpected policy %q", stats.Policy)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/model", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var model modelResponse
	if err := json.Unmarshal(w.Body.Bytes(), &model); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(model.Coefficients) != 4 || model.Coefficients[1].Feature != "sex" || model.Coefficients[1].Weight <= 0 {
		t.Errorf("unexpected coefficients: %+v", model.Coefficients)
	}
	if model.Rows == 0 || model.Dropped == 0 || model.ModelID == "" {
		t.Errorf("unexpected training metadata: %+v", model)
	}
}

func TestHandleReload(t *testing.T) {
	router := newTestRouter(t, nil)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/model", nil))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/model/reload", nil))
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", second.Code)
	}

	var before, after map[string]interface{}
	json.Unmarshal(first.Body.Bytes(), &before)
	json.Unmarshal(second.Body.Bytes(), &after)
	if before["model_id"] == after["model_id"] {
		t.Error("reload should produce a new model id")
	}
}

func TestHandlePredictionsHistory(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "titanic.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	router := newTestRouter(t, store)

	for _, target := range []string{"/api/predict?age=10", "/api/predict?age=20", "/api/predict?age=30"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, w.Code)
		}
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions?limit=2", nil))
	var history []db.PredictionRow
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(history) != 2 || history[0].Age != 30 {
		t.Errorf("unexpected history: %+v", history)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/training_log", nil))
	var runs []db.TrainingRun
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(runs) != 1 || runs[0].Rows == 0 {
		t.Errorf("unexpected training log: %+v", runs)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions?limit=zero", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad limit, got %d", w.Code)
	}
}

func TestHandlePredictionsWithoutStore(t *testing.T) {
	router := newTestRouter(t, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predictions", nil))
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected an empty list, got %d %q", w.Code, w.Body.String())
	}
}

func TestHandleMetrics(t *testing.T) {
	router := newTestRouter(t, nil)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/predict", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	var payload struct {
		Metrics map[string]monitoring.Summary `json:"metrics"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.Metrics[monitoring.MetricPredictions].Count != 1 {
		t.Errorf("expected one prediction recorded, got %+v", payload.Metrics[monitoring.MetricPredictions])
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/metrics?format=prometheus", nil))
	if !strings.Contains(w.Body.String(), "predictions_total 1") {
		t.Errorf("unexpected prometheus output: %s", w.Body.String())
	}
}

func TestPredictSocketChecksOrigin(t *testing.T) {
	config := DefaultServerConfig()
	config.AllowedOrigins = []string{"http://allowed.example"}
	server := httptest.NewServer(newTestHandlers(t, nil).Routes(config))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws/predict"

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{name: "allowed origin", origin: "http://allowed.example", ok: true},
		{name: "no origin", ok: true},
		{name: "foreign origin", origin: "http://evil.example"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if tt.ok {
				if err != nil {
					t.Fatalf("dial: %v", err)
				}
				conn.Close()
				return
			}
			if err == nil {
				conn.Close()
				t.Fatal("expected the handshake to be rejected")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Fatalf("expected 403, got %v (%v)", resp, err)
			}
		})
	}
}

func TestHandleMetricsIncludesRefresh(t *testing.T) {
	h := newTestHandlers(t, nil)
	refresher, err := scheduler.New(time.Hour, 0, func(ctx context.Context) error {
		_, err := h.predictor.Reload(ctx)
		return err
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := refresher.ExecuteNow(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	h.SetRefreshStatus(refresher)

	w := httptest.NewRecorder()
	h.Routes(DefaultServerConfig()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	var payload struct {
		Refresh *scheduler.Stats `json:"refresh"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.Refresh == nil || payload.Refresh.ExecutionCount != 1 || payload.Refresh.FailureCount != 0 {
		t.Fatalf("unexpected refresh stats: %+v", payload.Refresh)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	router := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Error("missing CORS header")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security header")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestPredictSocket(t *testing.T) {
	server := httptest.NewServer(newTestRouter(t, nil))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws/predict"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"pclass":1,"sex":"female","age":25,"fare":100}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var prediction predictor.Prediction
	if err := conn.ReadJSON(&prediction); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !prediction.Survived {
		t.Errorf("expected survival, got %+v", prediction)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"pclass":9}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply errorResponse
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Error == "" {
		t.Error("expected an error reply for an invalid query")
	}
}
