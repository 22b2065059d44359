package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"titanic/db"
	"titanic/ml"
	"titanic/monitoring"
	"titanic/passenger"
	"titanic/predictor"
	"titanic/scheduler"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	maxBodyBytes        = 1 << 20
)

// Handlers serves the prediction API. Store may be nil when persistence is
// disabled.
type Handlers struct {
	predictor *predictor.Service
	store     *db.Store
	metrics   *monitoring.MetricsCollector
	refresh   RefreshStatus
	logger    *zap.Logger
}

// RefreshStatus reports on the periodic dataset refresh. scheduler.Scheduler
// satisfies it.
type RefreshStatus interface {
	GetStats() scheduler.Stats
}

func NewHandlers(service *predictor.Service, store *db.Store, metrics *monitoring.MetricsCollector, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{predictor: service, store: store, metrics: metrics, logger: logger}
}

// SetRefreshStatus adds the refresh scheduler's stats to /api/metrics.
func (h *Handlers) SetRefreshStatus(r RefreshStatus) {
	h.refresh = r
}

func (h *Handlers) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/predict", h.handlePredictQuery)
	mux.Handle("POST /api/predict", RequestSizeMiddleware(maxBodyBytes)(http.HandlerFunc(h.handlePredictBody)))
	mux.HandleFunc("GET /api/stats", h.handleStats)
	mux.HandleFunc("GET /api/model", h.handleModel)
	mux.HandleFunc("POST /api/model/reload", h.handleReload)
	mux.HandleFunc("GET /api/predictions", h.handlePredictions)
	mux.HandleFunc("GET /api/training_log", h.handleTrainingLog)
	mux.HandleFunc("GET /api/metrics", h.handleMetrics)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, passenger.ErrInvalidQuery), errors.Is(err, passenger.ErrDataError):
		return http.StatusBadRequest
	case errors.Is(err, predictor.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// parseQuery reads pclass, sex, age and fare from the URL, keeping the
// widget defaults for anything omitted.
func parseQuery(r *http.Request) (passenger.Query, error) {
	query := passenger.DefaultQuery()
	values := r.URL.Query()

	if v := values.Get("pclass"); v != "" {
		class, err := strconv.Atoi(v)
		if err != nil {
			return query, fmt.Errorf("%w: pclass %q is not an integer", passenger.ErrInvalidQuery, v)
		}
		query.TicketClass = class
	}
	if v := values.Get("sex"); v != "" {
		query.Sex = v
	}
	for name, target := range map[string]*float64{"age": &query.Age, "fare": &query.Fare} {
		v := values.Get(name)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return query, fmt.Errorf("%w: %s %q is not a number", passenger.ErrInvalidQuery, name, v)
		}
		*target = f
	}
	return query, nil
}

func (h *Handlers) handlePredictQuery(w http.ResponseWriter, r *http.Request) {
	query, err := parseQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.predict(w, r, query)
}

func (h *Handlers) handlePredictBody(w http.ResponseWriter, r *http.Request) {
	query := passenger.DefaultQuery()
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", passenger.ErrInvalidQuery, err))
		return
	}
	h.predict(w, r, query)
}

func (h *Handlers) predict(w http.ResponseWriter, r *http.Request, query passenger.Query) {
	prediction, err := h.predictor.Predict(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prediction)
}

func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.predictor.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type modelResponse struct {
	ModelID      string           `json:"model_id"`
	ModelType    string           `json:"model_type"`
	Source       string           `json:"source"`
	Features     []string         `json:"features"`
	Coefficients []ml.Coefficient `json:"coefficients"`
	Intercept    float64          `json:"intercept"`
	Converged    bool             `json:"converged"`
	Iterations   int              `json:"iterations"`
	Solver       ml.SolverConfig  `json:"solver"`
	Rows         int              `json:"rows"`
	Dropped      int              `json:"dropped"`
	Evaluation   ml.Evaluation    `json:"evaluation"`
	TrainedAt    time.Time        `json:"trained_at"`
}

func (h *Handlers) handleModel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.predictor.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, modelResponse{
		ModelID:      snap.ModelID,
		ModelType:    ml.ModelTypeLogistic,
		Source:       snap.Source.String(),
		Features:     snap.Model.Features(),
		Coefficients: snap.Model.Coefficients(),
		Intercept:    snap.Model.Intercept(),
		Converged:    snap.Model.Converged(),
		Iterations:   snap.Model.Iterations(),
		Solver:       snap.Model.Solver(),
		Rows:         snap.Rows,
		Dropped:      snap.Dropped,
		Evaluation:   snap.Evaluation,
		TrainedAt:    snap.TrainedAt,
	})
}

// handleReload refits the model from the configured source and swaps it in.
func (h *Handlers) handleReload(w http.ResponseWriter, r *http.Request) {
	snap, err := h.predictor.Reload(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model_id":   snap.ModelID,
		"rows":       snap.Rows,
		"dropped":    snap.Dropped,
		"trained_at": snap.TrainedAt,
	})
}

func (h *Handlers) handlePredictions(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid limit %q", v)})
			return
		}
		limit = min(l, maxHistoryLimit)
	}

	predictions := make([]db.PredictionRow, 0)
	if h.store != nil {
		var err error
		if predictions, err = h.store.RecentPredictions(r.Context(), limit); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, predictions)
}

func (h *Handlers) handleTrainingLog(w http.ResponseWriter, r *http.Request) {
	runs := make([]db.TrainingRun, 0)
	if h.store != nil {
		var err error
		if runs, err = h.store.LoadTrainingLog(r.Context()); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "prometheus" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Write([]byte(h.metrics.ExportPrometheus()))
		return
	}
	body := map[string]interface{}{
		"metrics": h.metrics.Summaries(),
		"system":  h.metrics.GetSystemStats(),
	}
	if h.refresh != nil {
		body["refresh"] = h.refresh.GetStats()
	}
	writeJSON(w, http.StatusOK, body)
}
